package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hookline/internal/models"
	"hookline/internal/schema"
	"hookline/internal/signing"
	"hookline/internal/storage"
	"hookline/internal/subscription"
	"hookline/internal/transport"
)

// Dispatcher fans fired events out to matching endpoints. Async events are
// enqueued as delivery rows and picked up by the transport pool; sync events
// walk candidates in order and block on the first usable answer.
//
// All collaborators are passed in at construction; the dispatcher reads no
// ambient global state.
type Dispatcher struct {
	store      storage.Storage
	registry   *schema.Registry
	parser     *subscription.Parser
	renderer   PayloadRenderer
	syncCaller transport.SyncCaller
	conditions ConditionEvaluator
	log        zerolog.Logger
}

func New(
	store storage.Storage,
	registry *schema.Registry,
	parser *subscription.Parser,
	renderer PayloadRenderer,
	syncCaller transport.SyncCaller,
	conditions ConditionEvaluator,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:      store,
		registry:   registry,
		parser:     parser,
		renderer:   renderer,
		syncCaller: syncCaller,
		conditions: conditions,
		log:        log,
	}
}

// FireEvent enqueues one delivery per matching endpoint and returns without
// waiting for any outcome. At-least-once per endpoint is the contract;
// ordering between endpoints is not.
func (d *Dispatcher) FireEvent(ctx context.Context, eventType string, subject map[string]interface{}, staticPayload json.RawMessage, requestorID string) error {
	def, ok := d.registry.Get(eventType)
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	if def.Sync {
		return fmt.Errorf("event type %q is synchronous, use RequestSyncAnswer", eventType)
	}

	candidates, err := d.eligibleCandidates(ctx, def)
	if err != nil {
		return fmt.Errorf("list eligible endpoints: %w", err)
	}

	eventID := uuid.NewString()
	now := time.Now().UTC()
	enqueued := 0

	for i := range candidates {
		ep := &candidates[i].Endpoint

		payload, ok := d.payloadFor(ctx, ep, eventType, subject, staticPayload)
		if !ok {
			continue
		}

		delivery := &models.Delivery{
			ID:         models.NewID("dlv"),
			EventID:    eventID,
			EventType:  eventType,
			EndpointID: ep.ID,
			Payload:    payload,
			Signature:  signing.Sign(ep.Secret, payload),
			Status:     models.DeliveryPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := d.store.CreateDelivery(ctx, delivery); err != nil {
			d.log.Error().Err(err).Str("endpoint_id", ep.ID).Str("event_type", eventType).Msg("failed to enqueue delivery")
			continue
		}
		enqueued++
	}

	d.log.Info().
		Str("event_type", eventType).
		Str("event_id", eventID).
		Str("requestor_id", requestorID).
		Int("deliveries", enqueued).
		Msg("event fired")
	return nil
}

// RequestSyncAnswer tries matching endpoints in a stable order (lowest
// integration id, then lowest endpoint id) until one returns a usable
// response. A nil return with nil error means no integration had an opinion;
// that is not a failure.
func (d *Dispatcher) RequestSyncAnswer(ctx context.Context, eventType string, subject map[string]interface{}, staticPayload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	def, ok := d.registry.Get(eventType)
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if !def.Sync {
		return nil, fmt.Errorf("event type %q is asynchronous, use FireEvent", eventType)
	}

	candidates, err := d.eligibleCandidates(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("list eligible endpoints: %w", err)
	}

	for i := range candidates {
		ep := &candidates[i].Endpoint

		if cond, deferred := d.deferred(ep, subject); deferred {
			d.log.Debug().
				Str("endpoint_id", ep.ID).
				Str("event_type", eventType).
				Str("condition", cond).
				Msg("candidate deferred, skipping without calling")
			continue
		}

		payload, ok := d.payloadFor(ctx, ep, eventType, subject, staticPayload)
		if !ok {
			continue
		}

		resp := d.syncCaller.Call(ctx, eventType, ep, payload, timeout)
		if resp != nil {
			d.log.Info().
				Str("endpoint_id", ep.ID).
				Str("integration_id", ep.IntegrationID).
				Str("event_type", eventType).
				Msg("sync answer received")
			return resp, nil
		}
	}

	d.log.Info().Str("event_type", eventType).Msg("no sync answer from any candidate")
	return nil, nil
}

// eligibleCandidates returns active endpoints of active, not-removed
// integrations holding the event's permission, in (integration id, endpoint
// id) order. The matching step per mechanism happens later in payloadFor.
func (d *Dispatcher) eligibleCandidates(ctx context.Context, def schema.EventDef) ([]storage.EligibleEndpoint, error) {
	all, err := d.store.ListEligibleEndpoints(ctx)
	if err != nil {
		return nil, err
	}

	var out []storage.EligibleEndpoint
	for _, c := range all {
		if !c.Integration.HasPermission(def.Permission) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Integration.ID != out[j].Integration.ID {
			return out[i].Integration.ID < out[j].Integration.ID
		}
		return out[i].Endpoint.ID < out[j].Endpoint.ID
	})
	return out, nil
}

// payloadFor decides whether the endpoint wants the event and, if so,
// renders its payload. A document endpoint matches through its parsed
// document only, so an endpoint matching both mechanisms still yields a
// single delivery. Invalid documents skip silently: the document may have
// been valid at creation time and invalidated by a schema change since.
func (d *Dispatcher) payloadFor(ctx context.Context, ep *models.Endpoint, eventType string, subject map[string]interface{}, staticPayload json.RawMessage) (json.RawMessage, bool) {
	if ep.SubscriptionQuery != "" {
		q := d.parser.Parse(ep.SubscriptionQuery)
		if !q.IsValid {
			d.log.Debug().
				Str("endpoint_id", ep.ID).
				Str("error_code", string(q.ErrorCode)).
				Msg("skipping endpoint with invalid subscription document")
			return nil, false
		}
		if !q.SubscribesTo(eventType) {
			return nil, false
		}

		payload, err := d.renderer.Render(ctx, ep.SubscriptionQuery, subject)
		if payload == nil {
			d.log.Warn().
				Err(err).
				Str("endpoint_id", ep.ID).
				Str("event_type", eventType).
				Msg("subscription document produced no payload, skipping delivery")
			return nil, false
		}
		return payload, true
	}

	if !ep.SubscribesStatically(eventType) {
		return nil, false
	}
	if staticPayload == nil {
		d.log.Warn().
			Str("endpoint_id", ep.ID).
			Str("event_type", eventType).
			Msg("no static payload supplied, skipping delivery")
		return nil, false
	}
	return staticPayload, true
}

// deferred reports whether any of the endpoint's defer conditions currently
// holds for the subject, returning the first condition that does.
func (d *Dispatcher) deferred(ep *models.Endpoint, subject map[string]interface{}) (string, bool) {
	for _, cond := range ep.DeferIf {
		if d.conditions.Evaluate(cond, subject) {
			return cond, true
		}
	}
	return "", false
}
