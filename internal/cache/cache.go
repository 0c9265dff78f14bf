// Package cache provides the local key/value projection of collection state.
//
// Entries hold an opaque payload plus sync metadata. The in-memory collection
// list is authoritative; everything in the cache can be rebuilt from it or
// from the remote store, so write failures are reported but never fatal.
package cache

import (
	"context"
	"strings"

	"github.com/kimhsiao/studiovault/internal/models"
)

// LocalCache is a persistent key/value store with per-entry sync metadata.
type LocalCache interface {
	// Get returns the entry for key, or nil when absent.
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, key string, payload []byte, meta models.CacheMeta) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	MarkSynced(ctx context.Context, key string) error
	UpdateMeta(ctx context.Context, key string, patch models.MetaPatch) error
}

const imagesSuffix = ":images"

// RecordKey returns the cache key of a record.
func RecordKey(collectionKey, id string) string {
	return collectionKey + ":" + id
}

// ImagesKey returns the cache key of a record's asset bundle.
func ImagesKey(collectionKey, id string) string {
	return RecordKey(collectionKey, id) + imagesSuffix
}

// ParseKey splits a cache key into its record id and whether it names images.
// ok is false when key does not belong to collectionKey.
func ParseKey(collectionKey, key string) (id string, images bool, ok bool) {
	prefix := collectionKey + ":"
	if !strings.HasPrefix(key, prefix) {
		return "", false, false
	}
	rest := strings.TrimPrefix(key, prefix)
	if strings.HasSuffix(rest, imagesSuffix) {
		return strings.TrimSuffix(rest, imagesSuffix), true, true
	}
	return rest, false, rest != ""
}
