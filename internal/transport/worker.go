package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"hookline/internal/models"
	"hookline/internal/storage"
)

// Worker runs one claimed delivery to completion of a single attempt and
// records the outcome. It never blocks the code that fired the event.
type Worker struct {
	store       storage.Storage
	sender      *Sender
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	log         zerolog.Logger
}

func NewWorker(store storage.Storage, sender *Sender, maxAttempts int, backoffBase, backoffCap time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:       store,
		sender:      sender,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		log:         log,
	}
}

func (w *Worker) Process(ctx context.Context, d models.Delivery) {
	ep, err := w.store.GetEndpoint(ctx, d.EndpointID)
	if err != nil || ep == nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to resolve endpoint for delivery")
		w.finish(ctx, &d, models.DeliveryFailed)
		return
	}

	in, err := w.store.GetIntegration(ctx, ep.IntegrationID)
	if err != nil || in == nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to resolve integration for delivery")
		w.finish(ctx, &d, models.DeliveryFailed)
		return
	}

	// Eligibility is re-checked at send time: the endpoint or integration
	// may have been deactivated or removed since enqueue.
	if !ep.Active || !in.Deliverable() {
		w.log.Info().Str("delivery_id", d.ID).Str("endpoint_id", ep.ID).Msg("dropping delivery to ineligible endpoint")
		w.finish(ctx, &d, models.DeliveryFailed)
		return
	}

	result := w.sender.Send(ctx, Target{
		URL:        ep.TargetURL,
		EventType:  d.EventType,
		EventID:    d.EventID,
		DeliveryID: d.ID,
		Signature:  d.Signature,
		Headers:    ep.CustomHeaders,
		Payload:    d.Payload,
	})

	d.AttemptCount++
	now := time.Now().UTC()

	attempt := &models.Attempt{
		ID:            models.NewID("att"),
		DeliveryID:    d.ID,
		AttemptNumber: d.AttemptCount,
		StatusCode:    result.StatusCode,
		ResponseBody:  result.ResponseBody,
		DurationMs:    result.DurationMs,
		Error:         result.Error,
		CreatedAt:     now.Format(time.RFC3339),
	}
	if err := w.store.CreateAttempt(ctx, attempt); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record attempt")
	}

	switch {
	case result.Success():
		d.Status = models.DeliverySuccess
		d.NextRetryAt = nil
		w.log.Info().
			Str("delivery_id", d.ID).
			Str("event_type", d.EventType).
			Int("status_code", result.StatusCode).
			Int64("duration_ms", result.DurationMs).
			Msg("delivery succeeded")

	case result.Permanent:
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
		w.log.Warn().
			Str("delivery_id", d.ID).
			Int("status_code", result.StatusCode).
			Str("error", result.Error).
			Msg("delivery terminally failed")

	case d.AttemptCount >= w.maxAttempts:
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
		w.log.Warn().
			Str("delivery_id", d.ID).
			Int("attempts", d.AttemptCount).
			Str("error", result.Error).
			Msg("delivery exhausted retry budget")

	default:
		d.Status = models.DeliveryRetrying
		d.NextRetryAt = NextRetryTime(d.AttemptCount, w.backoffBase, w.backoffCap)
		w.log.Info().
			Str("delivery_id", d.ID).
			Int("attempt", d.AttemptCount).
			Time("next_retry", *d.NextRetryAt).
			Msg("delivery scheduled for retry")
	}

	if err := w.store.UpdateDelivery(ctx, &d); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to update delivery")
	}
}

func (w *Worker) finish(ctx context.Context, d *models.Delivery, status models.DeliveryStatus) {
	d.Status = status
	d.NextRetryAt = nil
	if err := w.store.UpdateDelivery(ctx, d); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to update delivery")
	}
}
