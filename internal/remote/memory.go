package remote

import (
	"context"
	"slices"
	"sync"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
)

// Operation names passed to a MemoryStore fault hook.
const (
	OpPersist          = "persist"
	OpUpdate           = "update"
	OpDelete           = "delete"
	OpDeleteCollection = "delete_collection"
	OpFetch            = "fetch"
	OpUpload           = "upload"
	OpDownload         = "download"
	OpDeleteBlobs      = "delete_blobs"
)

// FaultFunc returns a non-nil error to make the named operation fail.
// target is the record id, collection key or blob path involved.
type FaultFunc func(op, target string) error

type rowKey struct {
	collection string
	id         string
}

type row struct {
	owner  string
	record *models.Record
}

// MemoryStore is an in-process Store. It is the reference implementation
// used by tests and by the CLI's memory mode.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[rowKey]*row
	blobs map[string][]byte
	fault FaultFunc
	calls map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[rowKey]*row),
		blobs: make(map[string][]byte),
		calls: make(map[string]int),
	}
}

// SetFault installs a fault hook; nil removes it.
func (s *MemoryStore) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Calls returns how many times op has been invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) enter(op, target string) error {
	s.calls[op]++
	if s.fault != nil {
		if err := s.fault(op, target); err != nil {
			return apperrors.Wrap(apperrors.ErrRemoteUnavailable, op+" failed", err)
		}
	}
	return nil
}

func (s *MemoryStore) PersistRecord(_ context.Context, ownerID string, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpPersist, rec.ID); err != nil {
		return err
	}
	if err := checkOwner(ownerID); err != nil {
		return err
	}

	key := rowKey{rec.CollectionKey, rec.ID}
	if existing, ok := s.rows[key]; ok && existing.owner != ownerID {
		return apperrors.Newf(apperrors.ErrPermission, "record %s belongs to another owner", rec.ID)
	}
	stored := rec.Clone()
	stored.OwnerID = ownerID
	s.rows[key] = &row{owner: ownerID, record: stored}
	return nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, ownerID, collectionKey, id string, patch models.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpUpdate, id); err != nil {
		return err
	}
	r, err := s.ownedRow(ownerID, collectionKey, id)
	if err != nil {
		return err
	}
	if r == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	if patch.UpdatedAt != 0 && patch.UpdatedAt < r.record.UpdatedAt {
		return nil
	}
	patch.Apply(r.record)
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, ownerID, collectionKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpDelete, id); err != nil {
		return err
	}
	r, err := s.ownedRow(ownerID, collectionKey, id)
	if err != nil || r == nil {
		return err
	}
	delete(s.rows, rowKey{collectionKey, id})
	return nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, ownerID, collectionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpDeleteCollection, collectionKey); err != nil {
		return err
	}
	if err := checkOwner(ownerID); err != nil {
		return err
	}
	for key, r := range s.rows {
		if key.collection != collectionKey || r.owner != ownerID {
			continue
		}
		for _, p := range r.record.AssetRefs.Paths() {
			delete(s.blobs, p)
		}
		delete(s.rows, key)
	}
	return nil
}

func (s *MemoryStore) FetchRecords(_ context.Context, ownerID, collectionKey string, limit int) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpFetch, collectionKey); err != nil {
		return nil, err
	}
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}

	var out []*models.Record
	for key, r := range s.rows {
		if key.collection == collectionKey && r.owner == ownerID {
			out = append(out, r.record.Clone())
		}
	}
	slices.SortFunc(out, newestFirst)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UploadBlob(_ context.Context, ownerID, path string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpUpload, path); err != nil {
		return err
	}
	if err := CheckBlobOwner(ownerID, path); err != nil {
		return err
	}
	s.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) DownloadBlob(_ context.Context, ownerID, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(OpDownload, path); err != nil {
		return nil, err
	}
	if err := CheckBlobOwner(ownerID, path); err != nil {
		return nil, err
	}
	data, ok := s.blobs[path]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "blob %s not found", path)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) DeleteBlobs(_ context.Context, ownerID string, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range paths {
		if err := s.enter(OpDeleteBlobs, p); err != nil {
			return err
		}
		if err := CheckBlobOwner(ownerID, p); err != nil {
			return err
		}
	}
	for _, p := range paths {
		delete(s.blobs, p)
	}
	return nil
}

// ownedRow returns the row for id, nil when absent, or PERMISSION_DENIED
// when it belongs to another owner. Caller holds s.mu.
func (s *MemoryStore) ownedRow(ownerID, collectionKey, id string) (*row, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	r, ok := s.rows[rowKey{collectionKey, id}]
	if !ok {
		return nil, nil
	}
	if r.owner != ownerID {
		return nil, apperrors.Newf(apperrors.ErrPermission, "record %s belongs to another owner", id)
	}
	return r, nil
}

// Record returns a copy of a stored row regardless of owner, or nil.
func (s *MemoryStore) Record(collectionKey, id string) *models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rows[rowKey{collectionKey, id}]; ok {
		return r.record.Clone()
	}
	return nil
}

// RecordCount returns the number of rows in collectionKey across owners.
func (s *MemoryStore) RecordCount(collectionKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.rows {
		if key.collection == collectionKey {
			n++
		}
	}
	return n
}

// HasBlob reports whether path is stored.
func (s *MemoryStore) HasBlob(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[path]
	return ok
}

// BlobCount returns the number of stored blobs.
func (s *MemoryStore) BlobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
