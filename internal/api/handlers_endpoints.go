package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"hookline/internal/models"
	"hookline/internal/schema"
	"hookline/internal/storage"
	"hookline/internal/subscription"
)

type EndpointHandler struct {
	store    storage.Storage
	parser   *subscription.Parser
	registry *schema.Registry
}

func NewEndpointHandler(store storage.Storage, parser *subscription.Parser, registry *schema.Registry) *EndpointHandler {
	return &EndpointHandler{store: store, parser: parser, registry: registry}
}

type endpointRequest struct {
	Name              string            `json:"name"`
	TargetURL         string            `json:"target_url"`
	SubscriptionQuery string            `json:"subscription_query"`
	Events            []string          `json:"events"`
	CustomHeaders     map[string]string `json:"custom_headers"`
}

// validate runs everything that can reject a write: target address, header
// names, and the full parser pipeline on a supplied document. On success it
// returns the events and defer conditions the endpoint should carry — for a
// document these are the parsed values, auto-populating the static list for
// display.
func (h *EndpointHandler) validate(w http.ResponseWriter, req *endpointRequest) (events, deferIf []string, ok bool) {
	if req.TargetURL == "" {
		writeError(w, http.StatusBadRequest, "target_url is required")
		return nil, nil, false
	}
	u, err := url.Parse(req.TargetURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "amqp" && u.Scheme != "amqps") {
		writeError(w, http.StatusBadRequest, "target_url must be an http(s) or amqp(s) address")
		return nil, nil, false
	}

	if err := validateCustomHeaders(req.CustomHeaders); err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeInvalidCustomHeaders, err.Error())
		return nil, nil, false
	}

	if req.SubscriptionQuery != "" {
		q := h.parser.Parse(req.SubscriptionQuery)
		if !q.IsValid {
			writeErrorCode(w, http.StatusBadRequest, string(q.ErrorCode), q.ErrorMsg)
			return nil, nil, false
		}
		return q.Events(), q.DeferIfConditions(), true
	}

	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "subscription_query or events is required")
		return nil, nil, false
	}
	for _, ev := range req.Events {
		if !h.registry.Known(ev) {
			writeErrorCode(w, http.StatusBadRequest, CodeInvalid, "unknown event type "+ev)
			return nil, nil, false
		}
	}
	return req.Events, nil, true
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "id")
	in, err := h.store.GetIntegration(r.Context(), integrationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get integration")
		return
	}
	if in == nil || in.RemovedAt != nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "integration not found")
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	events, deferIf, ok := h.validate(w, &req)
	if !ok {
		return
	}

	now := time.Now().UTC()
	ep := &models.Endpoint{
		ID:                models.NewID("wh"),
		IntegrationID:     in.ID,
		Name:              req.Name,
		TargetURL:         req.TargetURL,
		Secret:            models.NewSecret(),
		SubscriptionQuery: req.SubscriptionQuery,
		Events:            events,
		DeferIf:           deferIf,
		CustomHeaders:     req.CustomHeaders,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if ep.Events == nil {
		ep.Events = []string{}
	}
	if ep.CustomHeaders == nil {
		ep.CustomHeaders = map[string]string{}
	}

	if err := h.store.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}

	writeJSON(w, http.StatusCreated, ep)
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "endpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	integrationID := chi.URLParam(r, "id")
	eps, err := h.store.ListEndpoints(r.Context(), integrationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}
	if eps == nil {
		eps = []models.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "endpoint not found")
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	events, deferIf, ok := h.validate(w, &req)
	if !ok {
		return
	}

	ep.Name = req.Name
	ep.TargetURL = req.TargetURL
	ep.SubscriptionQuery = req.SubscriptionQuery
	ep.Events = events
	ep.DeferIf = deferIf
	if req.CustomHeaders != nil {
		ep.CustomHeaders = req.CustomHeaders
	}

	if err := h.store.UpdateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update endpoint")
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

// Delete refuses while a delivery for this endpoint is in flight. The
// endpoint is deactivated as a side effect so nothing new gets enqueued, and
// the caller retries the deletion once the in-flight work drains.
func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "endpoint not found")
		return
	}

	inFlight, err := h.store.HasInFlightDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check deliveries")
		return
	}
	if inFlight {
		if err := h.store.ToggleEndpoint(r.Context(), id, false); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to deactivate endpoint")
			return
		}
		writeErrorCode(w, http.StatusConflict, CodeDeleteFailed,
			"a delivery is in flight; endpoint deactivated, retry deletion")
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete endpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EndpointHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "endpoint not found")
		return
	}

	newActive := !ep.Active
	if err := h.store.ToggleEndpoint(r.Context(), id, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle endpoint")
		return
	}

	ep.Active = newActive
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deliveries, err := h.store.ListDeliveriesByEndpoint(r.Context(), id, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}
