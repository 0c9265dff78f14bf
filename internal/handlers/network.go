package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/studiovault/internal/connectivity"
	apperrors "github.com/kimhsiao/studiovault/internal/errors"
)

// NetworkHandler lets the host application report connectivity and identity.
type NetworkHandler struct {
	network *connectivity.Switch
}

// NewNetworkHandler creates a new NetworkHandler.
func NewNetworkHandler(network *connectivity.Switch) *NetworkHandler {
	return &NetworkHandler{network: network}
}

// Register adds the network routes to mux.
func (h *NetworkHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/network", h.Get)
	mux.HandleFunc("PUT /api/network", h.Put)
}

func (h *NetworkHandler) state() map[string]interface{} {
	st := h.network.State()
	return map[string]interface{}{
		"online":    st.Online,
		"owner_id":  st.OwnerID,
		"available": st.Available(),
	}
}

// Get handles GET /api/network.
func (h *NetworkHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// Put handles PUT /api/network. Omitted fields are left unchanged; an empty
// owner_id signs out.
func (h *NetworkHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online  *bool   `json:"online"`
		OwnerID *string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.OwnerID != nil {
		h.network.SetOwner(*req.OwnerID)
	}
	if req.Online != nil {
		h.network.SetOnline(*req.Online)
	}
	writeJSON(w, http.StatusOK, h.state())
}
