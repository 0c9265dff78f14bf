package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/studiovault/internal/assets"
	"github.com/kimhsiao/studiovault/internal/cache"
	"github.com/kimhsiao/studiovault/internal/collection"
	"github.com/kimhsiao/studiovault/internal/connectivity"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/remote"
	"github.com/kimhsiao/studiovault/internal/sync/queue"
	"github.com/kimhsiao/studiovault/internal/sync/scheduler"
	"github.com/kimhsiao/studiovault/internal/uuid"
)

type collectionMap map[string]*collection.Collection

func (m collectionMap) Collection(id string) (*collection.Collection, error) {
	c, ok := m[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "collection %q is not configured", id)
	}
	return c, nil
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(0, 0, color.RGBA{255, 255, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return assets.EncodeDataURL(buf.Bytes(), "image/png")
}

func setupServer(t *testing.T) (*httptest.Server, collectionMap) {
	t.Helper()
	q := queue.New(queue.NewMemoryStore(), 0)
	store := remote.NewMemoryStore()
	net := connectivity.NewSwitch(true, "user-1")
	cols := collectionMap{}
	for _, def := range []collection.Definition{
		{ID: "favorites", Type: models.CollectionFavorite},
		{ID: "history", Type: models.CollectionHistory},
	} {
		c, err := collection.New(collection.Options{
			Definition: def,
			Cache:      cache.NewMemoryCache(),
			Queue:      q,
			Remote:     store,
			Oracle:     net,

			GenerateThumbnails: true,
		})
		require.NoError(t, err)
		cols[def.ID] = c
	}

	mux := http.NewServeMux()
	NewRecordHandler(cols).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, cols
}

func do(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&rd).Encode(body))
	}
	req, err := http.NewRequest(method, url, &rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestRecordHandler_lifecycle(t *testing.T) {
	srv, _ := setupServer(t)
	base := srv.URL + "/api/collections/favorites/records"

	resp, created := do(t, http.MethodPost, base, map[string]interface{}{
		"display_text": "Red fox",
		"tags":         []string{"animal"},
		"folder":       "nature",
		"images":       map[string]interface{}{"main": pngDataURL(t)},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)
	assert.Equal(t, "synced", created["sync_status"])

	resp, got := do(t, http.MethodGet, base+"/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Red fox", got["display_text"])

	resp, images := do(t, http.MethodGet, base+"/"+id+"/images", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, images["main"])
	assert.NotEmpty(t, images["thumbnail"])

	resp, updated := do(t, http.MethodPatch, base+"/"+id, map[string]interface{}{"tags": []string{"animal", "orange"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, updated["tags"], 2)

	resp, tags := do(t, http.MethodGet, srv.URL+"/api/collections/favorites/tags", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []interface{}{"animal", "orange"}, tags["tags"])

	resp, folders := do(t, http.MethodGet, srv.URL+"/api/collections/favorites/folders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{"nature"}, folders["folders"])

	resp, _ = do(t, http.MethodDelete, base+"/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := do(t, http.MethodGet, base+"/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(apperrors.ErrNotFound), body["code"])
}

func TestRecordHandler_listPaginatesAndFilters(t *testing.T) {
	srv, cols := setupServer(t)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		_, err := cols["favorites"].Add(ctx, models.RecordInput{DisplayText: text, Tags: []string{text}},
			models.AssetBundle{Main: pngDataURL(t)})
		require.NoError(t, err)
	}
	base := srv.URL + "/api/collections/favorites/records"

	resp, page := do(t, http.MethodGet, base+"?per_page=2&page=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, page["total"])
	assert.EqualValues(t, 2, page["total_pages"])
	items := page["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "one", items[0].(map[string]interface{})["display_text"], "newest first")

	_, page = do(t, http.MethodGet, base+"?page=9", nil)
	assert.Empty(t, page["items"])

	_, page = do(t, http.MethodGet, base+"?tag=two", nil)
	assert.EqualValues(t, 1, page["total"])

	_, page = do(t, http.MethodGet, base+"?q=thr", nil)
	assert.EqualValues(t, 1, page["total"])

	resp, _ = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, page = do(t, http.MethodGet, base, nil)
	assert.EqualValues(t, 0, page["total"])
}

func TestRecordHandler_errors(t *testing.T) {
	srv, cols := setupServer(t)
	rec, err := cols["history"].Add(context.Background(), models.RecordInput{DisplayText: "h"},
		models.AssetBundle{Main: pngDataURL(t)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown collection", http.MethodGet, "/api/collections/drafts/records", nil, http.StatusNotFound},
		{"missing main image", http.MethodPost, "/api/collections/favorites/records",
			map[string]interface{}{"display_text": "x"}, http.StatusBadRequest},
		{"history update", http.MethodPatch, "/api/collections/history/records/" + rec.ID,
			map[string]interface{}{"display_text": "y"}, http.StatusUnprocessableEntity},
		{"missing record", http.MethodDelete, "/api/collections/favorites/records/" + uuid.NewTimeOrdered(), nil, http.StatusNotFound},
		{"malformed id", http.MethodGet, "/api/collections/favorites/records/nope", nil, http.StatusBadRequest},
		{"malformed id on patch", http.MethodPatch, "/api/collections/favorites/records/nope",
			map[string]interface{}{"display_text": "y"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/collections/favorites/records", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(apperrors.New(apperrors.ErrRemoteUnavailable, "x")))
	assert.Equal(t, http.StatusBadGateway, statusFor(apperrors.New(apperrors.ErrMainAssetUpload, "x")))
	assert.Equal(t, http.StatusForbidden, statusFor(apperrors.New(apperrors.ErrPermission, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

type fakeRunner struct {
	calls int
	err   error
}

func (f *fakeRunner) SyncNow(context.Context) error {
	f.calls++
	return f.err
}

func (f *fakeRunner) GetStatus() scheduler.Status {
	return scheduler.Status{SyncCount: f.calls}
}

type fakeFlusher struct{}

func (fakeFlusher) FlushAll(context.Context) ([]collection.SyncReport, error) {
	return []collection.SyncReport{
		{Collection: "history", Flush: queue.FlushResult{Processed: 2}},
		{Collection: "favorites", Flush: queue.FlushResult{Remaining: 1}, Err: errors.New("remote down")},
	}, errors.New("remote down")
}

func TestSyncHandler(t *testing.T) {
	runner := &fakeRunner{}
	mux := http.NewServeMux()
	NewSyncHandler(runner, fakeFlusher{}, func() interface{} { return map[string]interface{}{"online": true} }).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	_, body = do(t, http.MethodPost, srv.URL+"/api/sync", nil)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, runner.calls)

	runner.err = errors.New("partial")
	_, body = do(t, http.MethodPost, srv.URL+"/api/sync", nil)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "partial", body["error"])

	_, body = do(t, http.MethodPost, srv.URL+"/api/flush", nil)
	assert.Equal(t, false, body["success"])
	reports := body["reports"].([]interface{})
	require.Len(t, reports, 2)
	assert.EqualValues(t, 2, reports[0].(map[string]interface{})["processed"])
	assert.Equal(t, "remote down", reports[1].(map[string]interface{})["error"])

	_, body = do(t, http.MethodGet, srv.URL+"/api/status", nil)
	assert.Equal(t, true, body["vault"].(map[string]interface{})["online"])
	assert.NotNil(t, body["scheduler"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/sync", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNetworkHandler(t *testing.T) {
	network := connectivity.NewSwitch(false, "user-1")
	var transitions int
	off := network.OnChange(func(prev, next connectivity.State) {
		if !prev.Available() && next.Available() {
			transitions++
		}
	})
	defer off()

	mux := http.NewServeMux()
	NewNetworkHandler(network).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, body := do(t, http.MethodGet, srv.URL+"/api/network", nil)
	assert.Equal(t, false, body["available"])

	_, body = do(t, http.MethodPut, srv.URL+"/api/network", map[string]interface{}{"online": true})
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "user-1", body["owner_id"])
	assert.Equal(t, 1, transitions)

	_, body = do(t, http.MethodPut, srv.URL+"/api/network", map[string]interface{}{"owner_id": ""})
	assert.Equal(t, true, body["online"])
	assert.Equal(t, false, body["available"])
}
