package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kimhsiao/studiovault/internal/collection"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
	"github.com/kimhsiao/studiovault/internal/models"
	"github.com/kimhsiao/studiovault/internal/uuid"
)

// Collections resolves a collection by id.
type Collections interface {
	Collection(id string) (*collection.Collection, error)
}

// RecordHandler serves records of configured collections.
type RecordHandler struct {
	collections Collections
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(collections Collections) *RecordHandler {
	return &RecordHandler{collections: collections}
}

// Register adds the record routes to mux.
func (h *RecordHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/collections/{collection}/records", h.ListRecords)
	mux.HandleFunc("POST /api/collections/{collection}/records", h.CreateRecord)
	mux.HandleFunc("DELETE /api/collections/{collection}/records", h.ClearRecords)
	mux.HandleFunc("GET /api/collections/{collection}/records/{id}", h.GetRecord)
	mux.HandleFunc("PATCH /api/collections/{collection}/records/{id}", h.UpdateRecord)
	mux.HandleFunc("DELETE /api/collections/{collection}/records/{id}", h.DeleteRecord)
	mux.HandleFunc("GET /api/collections/{collection}/records/{id}/images", h.GetImages)
	mux.HandleFunc("GET /api/collections/{collection}/tags", h.ListTags)
	mux.HandleFunc("GET /api/collections/{collection}/folders", h.ListFolders)
}

func (h *RecordHandler) collection(w http.ResponseWriter, r *http.Request) (*collection.Collection, bool) {
	c, err := h.collections.Collection(r.PathValue("collection"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return c, true
}

// record resolves the collection and validates the {id} path value.
func (h *RecordHandler) record(w http.ResponseWriter, r *http.Request) (*collection.Collection, string, bool) {
	c, ok := h.collection(w, r)
	if !ok {
		return nil, "", false
	}
	id := r.PathValue("id")
	if err := uuid.ValidateRecordID(id); err != nil {
		writeError(w, err)
		return nil, "", false
	}
	return c, id, true
}

// ListRecords handles GET /api/collections/{collection}/records.
// q, tag and folder filter the list; page and per_page paginate it.
func (h *RecordHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var records []*models.Record
	var err error
	q := r.URL.Query()
	switch {
	case q.Get("q") != "":
		records, err = c.Search(r.Context(), q.Get("q"))
	case q.Get("tag") != "":
		records, err = c.FilterByTag(r.Context(), q.Get("tag"))
	case q.Get("folder") != "":
		records, err = c.FilterByFolder(r.Context(), q.Get("folder"))
	default:
		records, err = c.GetAll(r.Context(), 0, 0)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	total := len(records)
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)
	totalPages := max((total+perPage-1)/perPage, 1)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":       records[start:end],
		"total":       total,
		"page":        page,
		"per_page":    perPage,
		"total_pages": totalPages,
	})
}

type createRequest struct {
	DisplayText      string          `json:"display_text"`
	GenerationParams json.RawMessage `json:"generation_params,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Folder           string          `json:"folder,omitempty"`
	Images           struct {
		Main      string   `json:"main"`
		Thumbnail string   `json:"thumbnail,omitempty"`
		Variants  []string `json:"variants,omitempty"`
	} `json:"images"`
}

// CreateRecord handles POST /api/collections/{collection}/records.
func (h *RecordHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.Images.Main == "" {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "images.main is required"))
		return
	}

	rec, err := c.Add(r.Context(), models.RecordInput{
		DisplayText:      req.DisplayText,
		GenerationParams: req.GenerationParams,
		Seed:             req.Seed,
		VariantCount:     len(req.Images.Variants),
		Tags:             req.Tags,
		Folder:           req.Folder,
	}, models.AssetBundle{
		Main:      req.Images.Main,
		Thumbnail: req.Images.Thumbnail,
		Variants:  req.Images.Variants,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetRecord handles GET /api/collections/{collection}/records/{id}.
func (h *RecordHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	c, id, ok := h.record(w, r)
	if !ok {
		return
	}
	rec, err := c.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetImages handles GET /api/collections/{collection}/records/{id}/images.
func (h *RecordHandler) GetImages(w http.ResponseWriter, r *http.Request) {
	c, id, ok := h.record(w, r)
	if !ok {
		return
	}
	bundle, err := c.GetImages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if bundle == nil {
		writeError(w, apperrors.Newf(apperrors.ErrNotFound, "images of %s are not available", id))
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// UpdateRecord handles PATCH /api/collections/{collection}/records/{id}.
func (h *RecordHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	c, id, ok := h.record(w, r)
	if !ok {
		return
	}
	var patch models.RecordPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	// Clients do not pick the timestamp.
	patch.UpdatedAt = 0

	rec, err := c.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/collections/{collection}/records/{id}.
func (h *RecordHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	c, id, ok := h.record(w, r)
	if !ok {
		return
	}
	if err := c.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearRecords handles DELETE /api/collections/{collection}/records.
func (h *RecordHandler) ClearRecords(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	if err := c.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTags handles GET /api/collections/{collection}/tags.
func (h *RecordHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	tags, err := c.AllTags(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

// ListFolders handles GET /api/collections/{collection}/folders.
func (h *RecordHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	folders, err := c.AllFolders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folders": folders})
}
