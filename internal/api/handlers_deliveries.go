package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hookline/internal/storage"
)

type DeliveryHandler struct {
	store storage.Storage
}

func NewDeliveryHandler(store storage.Storage) *DeliveryHandler {
	return &DeliveryHandler{store: store}
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	delivery, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch delivery")
		return
	}
	if delivery == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, delivery)
}

func (h *DeliveryHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	delivery, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch delivery")
		return
	}
	if delivery == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "delivery not found")
		return
	}

	attempts, err := h.store.GetAttemptsByDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch attempts")
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

// Retry moves a terminally failed delivery back to the pending queue so
// the worker pool picks it up on its next poll.
func (h *DeliveryHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.RequeueDelivery(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorCode(w, http.StatusNotFound, CodeNotFound, "no failed delivery with that id")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to requeue delivery")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}
