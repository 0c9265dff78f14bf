package cache

import (
	"context"
	"testing"

	"github.com/kimhsiao/studiovault/internal/db"
	"github.com/kimhsiao/studiovault/internal/models"
)

func openSQLite(t *testing.T, namespace string) (*SQLiteCache, *db.DB) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewSQLiteCache(database, namespace), database
}

// implementations runs fn against every LocalCache implementation.
func implementations(t *testing.T, fn func(t *testing.T, c LocalCache)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryCache()) })
	t.Run("sqlite", func(t *testing.T) {
		c, _ := openSQLite(t, "default")
		fn(t, c)
	})
}

func TestLocalCache_roundTrip(t *testing.T) {
	implementations(t, func(t *testing.T, c LocalCache) {
		ctx := context.Background()

		got, err := c.Get(ctx, "missing")
		if err != nil || got != nil {
			t.Fatalf("Get(missing) = %v, %v; want nil, nil", got, err)
		}

		meta := models.CacheMeta{SyncStatus: models.SyncStatusPending, CreatedAt: 10, UpdatedAt: 10}
		if err := c.Set(ctx, "favorites:r1", []byte(`{"id":"r1"}`), meta); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}

		got, err = c.Get(ctx, "favorites:r1")
		if err != nil || got == nil {
			t.Fatalf("Get() = %v, %v", got, err)
		}
		if string(got.Payload) != `{"id":"r1"}` || got.Meta.SyncStatus != models.SyncStatusPending || got.Meta.CreatedAt != 10 {
			t.Errorf("Get() = %+v", got)
		}

		if err := c.MarkSynced(ctx, "favorites:r1"); err != nil {
			t.Fatalf("MarkSynced() failed: %v", err)
		}
		got, _ = c.Get(ctx, "favorites:r1")
		if got.Meta.SyncStatus != models.SyncStatusSynced || got.Meta.SyncedAt == 0 {
			t.Errorf("after MarkSynced meta = %+v", got.Meta)
		}

		failed := models.SyncStatusFailed
		if err := c.UpdateMeta(ctx, "favorites:r1", models.MetaPatch{SyncStatus: &failed}); err != nil {
			t.Fatalf("UpdateMeta() failed: %v", err)
		}
		got, _ = c.Get(ctx, "favorites:r1")
		if got.Meta.SyncStatus != models.SyncStatusFailed {
			t.Errorf("after UpdateMeta status = %s", got.Meta.SyncStatus)
		}

		if err := c.UpdateMeta(ctx, "absent", models.MetaPatch{SyncStatus: &failed}); err != nil {
			t.Errorf("UpdateMeta(absent) error: %v", err)
		}
		if got, _ := c.Get(ctx, "absent"); got != nil {
			t.Error("UpdateMeta(absent) should not create an entry")
		}
	})
}

func TestLocalCache_keysDeleteClear(t *testing.T) {
	implementations(t, func(t *testing.T, c LocalCache) {
		ctx := context.Background()
		for _, k := range []string{"b", "a", "c"} {
			if err := c.Set(ctx, k, []byte(k), models.CacheMeta{}); err != nil {
				t.Fatalf("Set(%s): %v", k, err)
			}
		}

		keys, err := c.Keys(ctx)
		if err != nil || len(keys) != 3 || keys[0] != "a" {
			t.Fatalf("Keys() = %v, %v", keys, err)
		}

		if err := c.Delete(ctx, "a"); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if err := c.Delete(ctx, "a"); err != nil {
			t.Errorf("second Delete() failed: %v", err)
		}

		if err := c.Clear(ctx); err != nil {
			t.Fatalf("Clear() failed: %v", err)
		}
		keys, _ = c.Keys(ctx)
		if len(keys) != 0 {
			t.Errorf("Keys() after Clear = %v", keys)
		}
	})
}

func TestSQLiteCache_namespaces(t *testing.T) {
	ctx := context.Background()
	favorites, database := openSQLite(t, "favorites")
	history := NewSQLiteCache(database, "history")

	favorites.Set(ctx, "k", []byte("fav"), models.CacheMeta{})
	history.Set(ctx, "k", []byte("hist"), models.CacheMeta{})

	if err := history.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}

	got, err := favorites.Get(ctx, "k")
	if err != nil || got == nil || string(got.Payload) != "fav" {
		t.Errorf("favorites entry lost after clearing history: %v, %v", got, err)
	}
}

func TestSQLiteCache_survivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := db.Open(dir)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	NewSQLiteCache(first, "n").Set(ctx, "k", []byte("v"), models.CacheMeta{SyncStatus: models.SyncStatusSynced})
	first.Close()

	second, err := db.Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	got, _ := NewSQLiteCache(second, "n").Get(ctx, "k")
	if got == nil || got.Meta.SyncStatus != models.SyncStatusSynced {
		t.Errorf("entry after reopen = %+v", got)
	}
}

func TestMemoryCache_FailWrites(t *testing.T) {
	c := NewMemoryCache()
	c.FailWrites = true

	if err := c.Set(context.Background(), "k", nil, models.CacheMeta{}); err == nil {
		t.Error("Set() should fail when FailWrites is set")
	}
	if c.Len() != 0 {
		t.Error("failed Set() should not store")
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key        string
		wantID     string
		wantImages bool
		wantOK     bool
	}{
		{RecordKey("favorites", "r1"), "r1", false, true},
		{ImagesKey("favorites", "r1"), "r1", true, true},
		{"history:r2", "", false, false},
		{"favorites:", "", false, false},
	}

	for _, tt := range tests {
		id, images, ok := ParseKey("favorites", tt.key)
		if id != tt.wantID || images != tt.wantImages || ok != tt.wantOK {
			t.Errorf("ParseKey(%q) = %q, %v, %v", tt.key, id, images, ok)
		}
	}
}
