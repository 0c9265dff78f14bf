package handlers

import (
	"context"
	"net/http"

	"github.com/kimhsiao/studiovault/internal/collection"
	"github.com/kimhsiao/studiovault/internal/sync/scheduler"
)

// SyncRunner runs a serialized global sync.
type SyncRunner interface {
	SyncNow(ctx context.Context) error
	GetStatus() scheduler.Status
}

// Flusher drains every collection's queued operations.
type Flusher interface {
	FlushAll(ctx context.Context) ([]collection.SyncReport, error)
}

// SyncHandler triggers syncs and reports engine status.
type SyncHandler struct {
	runner  SyncRunner
	flusher Flusher
	status  func() interface{}
}

// NewSyncHandler creates a new SyncHandler. status supplies the body of
// GET /api/status.
func NewSyncHandler(runner SyncRunner, flusher Flusher, status func() interface{}) *SyncHandler {
	return &SyncHandler{runner: runner, flusher: flusher, status: status}
}

// Register adds the sync routes to mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("POST /api/sync", h.Sync)
	mux.HandleFunc("POST /api/flush", h.Flush)
}

// Health handles GET /api/health.
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "service": "studiovault"})
}

// Status handles GET /api/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vault":     h.status(),
		"scheduler": h.runner.GetStatus(),
	})
}

// Sync handles POST /api/sync. A partial failure still answers 200 with
// the error in the body; the scheduler already recorded it.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"success": true}
	if err := h.runner.SyncNow(r.Context()); err != nil {
		body["success"] = false
		body["error"] = err.Error()
	}
	body["scheduler"] = h.runner.GetStatus()
	writeJSON(w, http.StatusOK, body)
}

// Flush handles POST /api/flush.
func (h *SyncHandler) Flush(w http.ResponseWriter, r *http.Request) {
	reports, err := h.flusher.FlushAll(r.Context())
	body := map[string]interface{}{
		"success": err == nil,
		"reports": reportsJSON(reports),
	}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func reportsJSON(reports []collection.SyncReport) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(reports))
	for _, rep := range reports {
		m := map[string]interface{}{
			"collection": rep.Collection,
			"processed":  rep.Flush.Processed,
			"failed":     rep.Flush.Failed,
			"remaining":  rep.Flush.Remaining,
		}
		if rep.Err != nil {
			m["error"] = rep.Err.Error()
		}
		out = append(out, m)
	}
	return out
}
