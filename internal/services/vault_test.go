package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/studiovault/internal/assets"
	"github.com/kimhsiao/studiovault/internal/config"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/remote"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.OwnerID = "user-1"
	return cfg
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{0, 128, 255, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return assets.EncodeDataURL(buf.Bytes(), "image/png")
}

func TestOpen_wiresConfiguredCollections(t *testing.T) {
	v, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer v.Close()

	require.Len(t, v.Collections(), 2)
	assert.Equal(t, 2, v.Registry.Len())

	fav, err := v.Collection("favorites")
	require.NoError(t, err)
	assert.Equal(t, models.CollectionFavorite, fav.Definition().Type)

	_, err = v.Collection("drafts")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	st := v.Status()
	assert.True(t, st.Online)
	assert.Equal(t, config.RemoteDir, st.Remote)
	assert.Len(t, st.Collections, 2)
}

func TestOpen_rejectsInvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	cfg := testConfig(t)
	cfg.Collections = nil
	_, err = Open(context.Background(), cfg)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestVault_offlineQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Offline = true

	v, err := Open(ctx, cfg)
	require.NoError(t, err)
	fav, err := v.Collection("favorites")
	require.NoError(t, err)
	rec, err := fav.Add(ctx, models.RecordInput{DisplayText: "Widget", Tags: []string{"blue"}},
		models.AssetBundle{Main: pngDataURL(t)})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)
	assert.Equal(t, 1, v.Queue.Size())
	require.NoError(t, v.Close())

	cfg.Offline = false
	v, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, 1, v.Queue.Size(), "queued add is reloaded from sqlite")

	reports, err := v.Registry.FlushAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Zero(t, v.Queue.Size())

	// A second device sharing the remote directory sees the record.
	other := testConfig(t)
	other.Remote.Dir = cfg.RemoteDir()
	peer, err := Open(ctx, other)
	require.NoError(t, err)
	defer peer.Close()

	peerFav, err := peer.Collection("favorites")
	require.NoError(t, err)
	got, err := peerFav.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.DisplayText)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)

	images, err := peerFav.GetImages(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, images.Main)
}

func TestVault_shutdownFlushes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Remote.Kind = config.RemoteMemory

	v, err := Open(ctx, cfg)
	require.NoError(t, err)

	v.Network.SetOnline(false)
	hist, err := v.Collection("history")
	require.NoError(t, err)
	_, err = hist.Add(ctx, models.RecordInput{DisplayText: "a"}, models.AssetBundle{Main: pngDataURL(t)})
	require.NoError(t, err)
	v.Network.SetOnline(true)

	mem := v.Remote.(*remote.MemoryStore)
	require.NoError(t, v.Shutdown(ctx, time.Second))
	assert.Equal(t, 1, mem.RecordCount("history"))
	assert.Nil(t, v.DB)
	assert.NoError(t, v.Close(), "close is idempotent")
}

func TestVault_scheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Kind = config.RemoteMemory
	v, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer v.Close()

	s := v.Scheduler()
	require.NoError(t, s.SyncNow(context.Background()))
	assert.Equal(t, 1, s.GetStatus().SyncCount)
}

func TestNewRemote(t *testing.T) {
	tests := []struct {
		name   string
		remote config.RemoteConfig
		object bool
	}{
		{"memory", config.RemoteConfig{Kind: config.RemoteMemory}, false},
		{"dir", config.RemoteConfig{Kind: config.RemoteDir, Dir: "objects"}, true},
		{"s3", config.RemoteConfig{Kind: config.RemoteS3, Endpoint: "localhost:4566", Bucket: "b",
			AccessKey: "a", SecretKey: "s", ForcePathStyle: true}, true},
		{"minio", config.RemoteConfig{Kind: config.RemoteMinIO, Endpoint: "localhost:9000", Bucket: "b",
			AccessKey: "a", SecretKey: "s"}, true},
		{"r2", config.RemoteConfig{Kind: config.RemoteR2, AccountID: "0123456789abcdef0123456789abcdef",
			Bucket: "b", AccessKey: "a", SecretKey: "s"}, true},
		{"aws", config.RemoteConfig{Kind: config.RemoteAWS, Bucket: "b", Region: "eu-west-1",
			AccessKey: "a", SecretKey: "s"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Remote = tt.remote
			store, err := NewRemote(cfg)
			require.NoError(t, err)
			_, isObject := store.(*remote.ObjectBackedStore)
			assert.Equal(t, tt.object, isObject)
		})
	}

	cfg := testConfig(t)
	cfg.Remote.Kind = "ftp"
	_, err := NewRemote(cfg)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}
