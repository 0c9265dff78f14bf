package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
)

// MemoryCache is an ephemeral LocalCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry

	// FailWrites makes every mutating call fail; used to exercise degraded paths.
	FailWrites bool
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*models.CacheEntry)}
}

func (c *MemoryCache) writable() error {
	if c.FailWrites {
		return apperrors.New(apperrors.ErrCache, "cache write rejected")
	}
	return nil
}

// Get returns a copy of the entry for key.
func (c *MemoryCache) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	return &cp, nil
}

// Set stores payload under key.
func (c *MemoryCache) Set(_ context.Context, key string, payload []byte, meta models.CacheMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writable(); err != nil {
		return err
	}
	c.entries[key] = &models.CacheEntry{
		Key:     key,
		Payload: append([]byte(nil), payload...),
		Meta:    meta,
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writable(); err != nil {
		return err
	}
	delete(c.entries, key)
	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writable(); err != nil {
		return err
	}
	c.entries = make(map[string]*models.CacheEntry)
	return nil
}

// Keys returns all keys in lexical order.
func (c *MemoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// MarkSynced sets the entry status to synced.
func (c *MemoryCache) MarkSynced(ctx context.Context, key string) error {
	status := models.SyncStatusSynced
	now := time.Now().UnixMilli()
	return c.UpdateMeta(ctx, key, models.MetaPatch{SyncStatus: &status, SyncedAt: &now})
}

// UpdateMeta patches the metadata of key. Absent keys are left absent.
func (c *MemoryCache) UpdateMeta(_ context.Context, key string, patch models.MetaPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writable(); err != nil {
		return err
	}
	if e, ok := c.entries[key]; ok {
		patch.Apply(&e.Meta)
	}
	return nil
}

// Len returns the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
