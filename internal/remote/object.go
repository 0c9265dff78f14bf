package remote

import (
	"context"
	"encoding/json"
	"path"
	"slices"
	"strings"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/models"
)

// ObjectStore is a flat key/value blob store such as an S3 bucket.
// Download of an absent key returns a NOT_FOUND AppError.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

const (
	recordsPrefix = "records"
	blobsPrefix   = "blobs"
)

// ObjectBackedStore implements Store over an ObjectStore. Rows are JSON
// objects at records/<owner>/<collection>/<id>.json and blobs live under
// blobs/<path>. Owner namespacing by key prefix makes other owners' rows
// unaddressable.
type ObjectBackedStore struct {
	objects ObjectStore
}

// NewObjectBackedStore creates a Store over objects.
func NewObjectBackedStore(objects ObjectStore) *ObjectBackedStore {
	return &ObjectBackedStore{objects: objects}
}

func recordKey(ownerID, collectionKey, id string) string {
	return path.Join(recordsPrefix, ownerID, collectionKey, id+".json")
}

func collectionPrefix(ownerID, collectionKey string) string {
	return path.Join(recordsPrefix, ownerID, collectionKey) + "/"
}

func blobKey(p string) string {
	return path.Join(blobsPrefix, p)
}

func remoteErr(op string, err error) error {
	if apperrors.Is(err, apperrors.ErrNotFound) || apperrors.Is(err, apperrors.ErrPermission) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrRemoteUnavailable, op+" failed", err)
}

func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\") && s != "." && s != ".."
}

func checkCollection(ownerID, collectionKey string) error {
	if err := checkOwner(ownerID); err != nil {
		return err
	}
	if !validSegment(ownerID) || !validSegment(collectionKey) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid collection address %s/%s", ownerID, collectionKey)
	}
	return nil
}

func checkRow(ownerID, collectionKey, id string) error {
	if err := checkCollection(ownerID, collectionKey); err != nil {
		return err
	}
	if !validSegment(id) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid record id %q", id)
	}
	return nil
}

func (s *ObjectBackedStore) read(ctx context.Context, key string) (*models.Record, error) {
	data, err := s.objects.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "corrupt record object "+key, err)
	}
	return &rec, nil
}

func (s *ObjectBackedStore) write(ctx context.Context, key string, rec *models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode record", err)
	}
	return s.objects.Upload(ctx, key, data, "application/json")
}

func (s *ObjectBackedStore) PersistRecord(ctx context.Context, ownerID string, rec *models.Record) error {
	if err := checkRow(ownerID, rec.CollectionKey, rec.ID); err != nil {
		return err
	}
	stored := rec.Clone()
	stored.OwnerID = ownerID
	if err := s.write(ctx, recordKey(ownerID, rec.CollectionKey, rec.ID), stored); err != nil {
		return remoteErr("persist record", err)
	}
	return nil
}

func (s *ObjectBackedStore) UpdateRecord(ctx context.Context, ownerID, collectionKey, id string, patch models.RecordPatch) error {
	if err := checkRow(ownerID, collectionKey, id); err != nil {
		return err
	}
	key := recordKey(ownerID, collectionKey, id)
	rec, err := s.read(ctx, key)
	if err != nil {
		return remoteErr("update record", err)
	}
	if patch.UpdatedAt != 0 && patch.UpdatedAt < rec.UpdatedAt {
		return nil
	}
	patch.Apply(rec)
	if err := s.write(ctx, key, rec); err != nil {
		return remoteErr("update record", err)
	}
	return nil
}

func (s *ObjectBackedStore) DeleteRecord(ctx context.Context, ownerID, collectionKey, id string) error {
	if err := checkRow(ownerID, collectionKey, id); err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, recordKey(ownerID, collectionKey, id)); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return remoteErr("delete record", err)
	}
	return nil
}

func (s *ObjectBackedStore) DeleteCollection(ctx context.Context, ownerID, collectionKey string) error {
	if err := checkCollection(ownerID, collectionKey); err != nil {
		return err
	}
	keys, err := s.objects.List(ctx, collectionPrefix(ownerID, collectionKey))
	if err != nil {
		return remoteErr("list collection", err)
	}
	for _, key := range keys {
		rec, err := s.read(ctx, key)
		if err == nil {
			if err := s.DeleteBlobs(ctx, ownerID, rec.AssetRefs.Paths()); err != nil {
				return err
			}
		} else if !apperrors.Is(err, apperrors.ErrNotFound) {
			logging.Warn("skipping unreadable record during collection delete", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		if err := s.objects.Delete(ctx, key); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return remoteErr("delete record", err)
		}
	}
	return nil
}

func (s *ObjectBackedStore) FetchRecords(ctx context.Context, ownerID, collectionKey string, limit int) ([]*models.Record, error) {
	if err := checkCollection(ownerID, collectionKey); err != nil {
		return nil, err
	}
	keys, err := s.objects.List(ctx, collectionPrefix(ownerID, collectionKey))
	if err != nil {
		return nil, remoteErr("list collection", err)
	}

	out := make([]*models.Record, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		rec, err := s.read(ctx, key)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, remoteErr("fetch record", err)
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, newestFirst)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ObjectBackedStore) UploadBlob(ctx context.Context, ownerID, p string, data []byte, contentType string) error {
	if err := CheckBlobOwner(ownerID, p); err != nil {
		return err
	}
	if err := s.objects.Upload(ctx, blobKey(p), data, contentType); err != nil {
		return remoteErr("upload blob", err)
	}
	return nil
}

func (s *ObjectBackedStore) DownloadBlob(ctx context.Context, ownerID, p string) ([]byte, error) {
	if err := CheckBlobOwner(ownerID, p); err != nil {
		return nil, err
	}
	data, err := s.objects.Download(ctx, blobKey(p))
	if err != nil {
		return nil, remoteErr("download blob", err)
	}
	return data, nil
}

func (s *ObjectBackedStore) DeleteBlobs(ctx context.Context, ownerID string, paths []string) error {
	for _, p := range paths {
		if err := CheckBlobOwner(ownerID, p); err != nil {
			return err
		}
	}
	for _, p := range paths {
		if err := s.objects.Delete(ctx, blobKey(p)); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return remoteErr("delete blob", err)
		}
	}
	return nil
}
