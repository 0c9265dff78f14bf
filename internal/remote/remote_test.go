package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/remote/dirstore"
)

func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("object", func(t *testing.T) {
		objects, err := dirstore.New(t.TempDir())
		require.NoError(t, err)
		fn(t, NewObjectBackedStore(objects))
	})
}

func record(id string, createdAt int64) *models.Record {
	return &models.Record{
		ID:             id,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		CollectionType: models.CollectionFavorite,
		CollectionKey:  "favorites",
		DisplayText:    "item " + id,
		VariantCount:   1,
		SyncStatus:     models.SyncStatusSynced,
	}
}

func TestStore_persistIsUpsert(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := record("r1", 100)

		require.NoError(t, s.PersistRecord(ctx, "u1", rec))
		require.NoError(t, s.PersistRecord(ctx, "u1", rec))

		got, err := s.FetchRecords(ctx, "u1", "favorites", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "item r1", got[0].DisplayText)
		assert.Equal(t, "u1", got[0].OwnerID)
	})
}

func TestStore_fetchNewestFirstWithLimit(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, s.PersistRecord(ctx, "u1", record(id, int64(100+i))))
		}
		other := record("z", 999)
		other.CollectionKey = "history"
		require.NoError(t, s.PersistRecord(ctx, "u1", other))

		got, err := s.FetchRecords(ctx, "u1", "favorites", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"d", "c", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})

		foreign, err := s.FetchRecords(ctx, "u2", "favorites", 0)
		require.NoError(t, err)
		assert.Empty(t, foreign)
	})
}

func TestStore_updateLastWriterWins(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PersistRecord(ctx, "u1", record("r1", 100)))

		tags := []string{"x"}
		require.NoError(t, s.UpdateRecord(ctx, "u1", "favorites", "r1", models.RecordPatch{Tags: &tags, UpdatedAt: 200}))

		stale := "stale"
		require.NoError(t, s.UpdateRecord(ctx, "u1", "favorites", "r1", models.RecordPatch{DisplayText: &stale, UpdatedAt: 150}))

		got, err := s.FetchRecords(ctx, "u1", "favorites", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"x"}, got[0].Tags)
		assert.Equal(t, "item r1", got[0].DisplayText)
		assert.Equal(t, int64(200), got[0].UpdatedAt)

		err = s.UpdateRecord(ctx, "u1", "favorites", "missing", models.RecordPatch{Tags: &tags})
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "got %v", err)
	})
}

func TestStore_deleteIsIdempotent(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PersistRecord(ctx, "u1", record("r1", 100)))

		require.NoError(t, s.DeleteRecord(ctx, "u1", "favorites", "r1"))
		require.NoError(t, s.DeleteRecord(ctx, "u1", "favorites", "r1"))

		got, err := s.FetchRecords(ctx, "u1", "favorites", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_blobsAndOwnership(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := BlobPath("u1", "favorites", "r1", SlotMain, ".png")
		assert.Equal(t, "u1/favorites/r1/main.png", p)

		require.NoError(t, s.UploadBlob(ctx, "u1", p, []byte("png"), "image/png"))
		data, err := s.DownloadBlob(ctx, "u1", p)
		require.NoError(t, err)
		assert.Equal(t, "png", string(data))

		_, err = s.DownloadBlob(ctx, "u2", p)
		assert.True(t, apperrors.Is(err, apperrors.ErrPermission), "got %v", err)
		err = s.UploadBlob(ctx, "u2", p, []byte("x"), "")
		assert.True(t, apperrors.Is(err, apperrors.ErrPermission), "got %v", err)
		err = s.DeleteBlobs(ctx, "u2", []string{p})
		assert.True(t, apperrors.Is(err, apperrors.ErrPermission), "got %v", err)

		require.NoError(t, s.DeleteBlobs(ctx, "u1", []string{p, "u1/favorites/r1/absent.png"}))
		_, err = s.DownloadBlob(ctx, "u1", p)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "got %v", err)

		err = s.PersistRecord(ctx, "", record("r2", 1))
		assert.True(t, apperrors.Is(err, apperrors.ErrPermission), "got %v", err)
	})
}

func TestStore_deleteCollectionRemovesRowsAndBlobs(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := record("r1", 100)
		rec.AssetRefs.Main = BlobPath("u1", "favorites", "r1", SlotMain, ".png")
		require.NoError(t, s.UploadBlob(ctx, "u1", rec.AssetRefs.Main, []byte("png"), "image/png"))
		require.NoError(t, s.PersistRecord(ctx, "u1", rec))
		require.NoError(t, s.PersistRecord(ctx, "u2", record("r9", 100)))

		require.NoError(t, s.DeleteCollection(ctx, "u1", "favorites"))

		got, _ := s.FetchRecords(ctx, "u1", "favorites", 0)
		assert.Empty(t, got)
		_, err := s.DownloadBlob(ctx, "u1", rec.AssetRefs.Main)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound), "got %v", err)

		others, _ := s.FetchRecords(ctx, "u2", "favorites", 0)
		assert.Len(t, others, 1, "other owners' rows must survive")
	})
}

func TestMemoryStore_crossOwnerRow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.PersistRecord(ctx, "u1", record("r1", 100)))

	err := s.PersistRecord(ctx, "u2", record("r1", 100))
	assert.True(t, apperrors.Is(err, apperrors.ErrPermission))
	err = s.DeleteRecord(ctx, "u2", "favorites", "r1")
	assert.True(t, apperrors.Is(err, apperrors.ErrPermission))
	assert.NotNil(t, s.Record("favorites", "r1"))
}

func TestMemoryStore_faults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetFault(func(op, target string) error {
		if op == OpUpload && target == "u1/favorites/r1/thumbnail.png" {
			return errors.New("network down")
		}
		return nil
	})

	require.NoError(t, s.UploadBlob(ctx, "u1", "u1/favorites/r1/main.png", []byte("m"), ""))
	err := s.UploadBlob(ctx, "u1", "u1/favorites/r1/thumbnail.png", []byte("t"), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrRemoteUnavailable))
	assert.Equal(t, 2, s.Calls(OpUpload))
	assert.Equal(t, 1, s.BlobCount())
	assert.True(t, s.HasBlob("u1/favorites/r1/main.png"))

	s.SetFault(nil)
	require.NoError(t, s.UploadBlob(ctx, "u1", "u1/favorites/r1/thumbnail.png", []byte("t"), ""))
}

func TestObjectBackedStore_rejectsPathSegments(t *testing.T) {
	objects, err := dirstore.New(t.TempDir())
	require.NoError(t, err)
	s := NewObjectBackedStore(objects)

	rec := record("../escape", 1)
	err = s.PersistRecord(context.Background(), "u1", rec)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "got %v", err)
}

func TestCheckBlobOwner(t *testing.T) {
	assert.NoError(t, CheckBlobOwner("u1", "u1/favorites/r1/main.png"))
	assert.Error(t, CheckBlobOwner("u1", "u10/favorites/r1/main.png"))
	assert.Error(t, CheckBlobOwner("u1", "u1/../u2/x.png"))
	assert.Error(t, CheckBlobOwner("", "u1/x.png"))
	assert.Equal(t, "variant-2", VariantSlot(2))
}
