// Package remote defines the adapter over the remote row store and blob store.
//
// Every call carries the owner identity. Adapters reject access to rows or
// blobs belonging to another owner with PERMISSION_DENIED; collections never
// re-check ownership themselves.
package remote

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
)

// Store is the remote persistence adapter consumed by collections.
type Store interface {
	// PersistRecord upserts rec by id under ownerID.
	PersistRecord(ctx context.Context, ownerID string, rec *models.Record) error
	// UpdateRecord applies patch unless the stored row is newer (last writer wins).
	// Returns NOT_FOUND when the row does not exist.
	UpdateRecord(ctx context.Context, ownerID, collectionKey, id string, patch models.RecordPatch) error
	// DeleteRecord removes the row. Deleting an absent row succeeds.
	DeleteRecord(ctx context.Context, ownerID, collectionKey, id string) error
	// DeleteCollection removes every row of collectionKey and the blobs they reference.
	DeleteCollection(ctx context.Context, ownerID, collectionKey string) error
	// FetchRecords returns up to limit rows newest-first. limit <= 0 means all.
	FetchRecords(ctx context.Context, ownerID, collectionKey string, limit int) ([]*models.Record, error)

	UploadBlob(ctx context.Context, ownerID, path string, data []byte, contentType string) error
	DownloadBlob(ctx context.Context, ownerID, path string) ([]byte, error)
	// DeleteBlobs removes paths. Absent blobs are ignored.
	DeleteBlobs(ctx context.Context, ownerID string, paths []string) error
}

// Blob slot names used in blob paths and upload failure reports.
const (
	SlotMain      = "main"
	SlotThumbnail = "thumbnail"
)

// VariantSlot returns the slot name of the i-th variant.
func VariantSlot(i int) string {
	return fmt.Sprintf("variant-%d", i)
}

// BlobPath returns the blob path of one asset slot of a record:
// <owner>/<remoteKey>/<recordID>/<slot><ext>.
func BlobPath(ownerID, remoteKey, recordID, slot, ext string) string {
	return strings.Join([]string{ownerID, remoteKey, recordID, slot + ext}, "/")
}

// CheckBlobOwner rejects blob paths outside ownerID's namespace.
func CheckBlobOwner(ownerID, path string) error {
	if ownerID == "" {
		return apperrors.New(apperrors.ErrPermission, "no owner identity")
	}
	if !strings.HasPrefix(path, ownerID+"/") || strings.Contains(path, "..") {
		return apperrors.Newf(apperrors.ErrPermission, "blob %s is outside owner namespace", path)
	}
	return nil
}

func checkOwner(ownerID string) error {
	if ownerID == "" {
		return apperrors.New(apperrors.ErrPermission, "no owner identity")
	}
	return nil
}

// newestFirst orders records by CreatedAt descending, breaking ties by id descending.
func newestFirst(a, b *models.Record) int {
	switch {
	case a.CreatedAt > b.CreatedAt:
		return -1
	case a.CreatedAt < b.CreatedAt:
		return 1
	default:
		return strings.Compare(b.ID, a.ID)
	}
}
