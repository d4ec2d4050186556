package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hookline/internal/breaker"
	"hookline/internal/models"
	"hookline/internal/storage"
)

type IntegrationHandler struct {
	store   storage.Storage
	breaker *breaker.Breaker
}

func NewIntegrationHandler(store storage.Storage, b *breaker.Breaker) *IntegrationHandler {
	return &IntegrationHandler{store: store, breaker: b}
}

type createIntegrationRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func (h *IntegrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now().UTC()
	in := &models.Integration{
		ID:          models.NewID("int"),
		Name:        req.Name,
		Permissions: req.Permissions,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Permissions == nil {
		in.Permissions = []string{}
	}

	if err := h.store.CreateIntegration(r.Context(), in); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create integration")
		return
	}

	writeJSON(w, http.StatusCreated, in)
}

func (h *IntegrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.store.GetIntegration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get integration")
		return
	}
	if in == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "integration not found")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *IntegrationHandler) List(w http.ResponseWriter, r *http.Request) {
	ins, err := h.store.ListIntegrations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list integrations")
		return
	}
	if ins == nil {
		ins = []models.Integration{}
	}
	writeJSON(w, http.StatusOK, ins)
}

// Remove soft-deletes: deliveries already enqueued keep their history, but
// the integration's endpoints stop matching immediately.
func (h *IntegrationHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.store.GetIntegration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get integration")
		return
	}
	if in == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "integration not found")
		return
	}

	if err := h.store.RemoveIntegration(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove integration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IntegrationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.store.GetIntegration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get integration")
		return
	}
	if in == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "integration not found")
		return
	}

	stats, err := h.store.GetStats(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ResetBreaker clears all breaker state for an integration. Admin action for
// when an integration has been fixed and should be called again right away.
func (h *IntegrationHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.store.GetIntegration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get integration")
		return
	}
	if in == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "integration not found")
		return
	}

	if err := h.breaker.Clear(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset breaker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
