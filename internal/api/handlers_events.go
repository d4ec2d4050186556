package api

import (
	"encoding/json"
	"net/http"
	"time"

	"hookline/internal/dispatch"
)

// EventHandler is the HTTP face of the two core entry points the business
// logic layer calls: fire-and-forget fan-out and blocking sync answers.
type EventHandler struct {
	dispatcher  *dispatch.Dispatcher
	syncTimeout time.Duration
}

func NewEventHandler(d *dispatch.Dispatcher, syncTimeout time.Duration) *EventHandler {
	return &EventHandler{dispatcher: d, syncTimeout: syncTimeout}
}

type fireEventRequest struct {
	EventType   string                 `json:"event_type"`
	Subject     map[string]interface{} `json:"subject"`
	Payload     json.RawMessage        `json:"payload"`
	RequestorID string                 `json:"requestor_id"`
}

func (h *EventHandler) Fire(w http.ResponseWriter, r *http.Request) {
	var req fireEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	if err := h.dispatcher.FireEvent(r.Context(), req.EventType, req.Subject, req.Payload, req.RequestorID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}

type syncEventRequest struct {
	EventType      string                 `json:"event_type"`
	Subject        map[string]interface{} `json:"subject"`
	Payload        json.RawMessage        `json:"payload"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
}

type syncEventResponse struct {
	Response json.RawMessage `json:"response"`
}

func (h *EventHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	timeout := h.syncTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	resp, err := h.dispatcher.RequestSyncAnswer(r.Context(), req.EventType, req.Subject, req.Payload, timeout)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A nil response is "no integration had an opinion", not an error.
	writeJSON(w, http.StatusOK, syncEventResponse{Response: resp})
}
