package dirstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, dir
}

func TestStore_uploadDownload(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Upload(ctx, "blobs/u1/favorites/r1/main.png", []byte("png"), "image/png"); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}

	data, err := s.Download(ctx, "blobs/u1/favorites/r1/main.png")
	if err != nil || string(data) != "png" {
		t.Fatalf("Download() = %q, %v", data, err)
	}

	_, err = s.Download(ctx, "blobs/missing")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Download(missing) error = %v, want NOT_FOUND", err)
	}
}

func TestStore_uploadSameContentSkipsRewrite(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()
	key := "records/u1/favorites/r1.json"

	s.Upload(ctx, key, []byte(`{}`), "")
	p := filepath.Join(dir, filepath.FromSlash(key))
	old := time.Now().Add(-time.Hour)
	os.Chtimes(p, old, old)

	if err := s.Upload(ctx, key, []byte(`{}`), ""); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	info, _ := os.Stat(p)
	if !info.ModTime().Equal(old) {
		t.Error("identical upload should not rewrite the file")
	}

	s.Upload(ctx, key, []byte(`{"a":1}`), "")
	data, _ := s.Download(ctx, key)
	if string(data) != `{"a":1}` {
		t.Errorf("changed upload not written: %s", data)
	}
}

func TestStore_listAndDelete(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	for _, k := range []string{"records/u1/fav/b.json", "records/u1/fav/a.json", "records/u2/fav/c.json"} {
		if err := s.Upload(ctx, k, []byte(k), ""); err != nil {
			t.Fatalf("Upload(%s): %v", k, err)
		}
	}

	keys, err := s.List(ctx, "records/u1/")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "records/u1/fav/a.json" {
		t.Errorf("List() = %v", keys)
	}

	if err := s.Delete(ctx, "records/u2/fav/c.json"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "records/u2/fav/c.json"); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "records", "u2")); !os.IsNotExist(err) {
		t.Error("empty parent directories should be pruned")
	}

	size, err := s.Size()
	if err != nil || size == 0 {
		t.Errorf("Size() = %d, %v", size, err)
	}
}

func TestStore_rejectsEscapingKeys(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "a/../../b", `a\b`} {
		if err := s.Upload(ctx, key, []byte("x"), ""); !apperrors.Is(err, apperrors.ErrInvalid) {
			t.Errorf("Upload(%q) error = %v, want INVALID_INPUT", key, err)
		}
	}
}
