package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"hookline/internal/breaker"
	"hookline/internal/models"
	"hookline/internal/signing"
)

// SyncCaller is a single blocking delivery with a hard timeout. Every
// failure mode — timeout, connection error, non-2xx, unparsable or empty
// body — collapses into a nil return, so the dispatcher's candidate loop
// never distinguishes them.
type SyncCaller interface {
	Call(ctx context.Context, eventType string, ep *models.Endpoint, payload []byte, timeout time.Duration) json.RawMessage
}

// HTTPSyncCaller posts the payload and returns the parsed JSON body, or nil.
// No retry happens here; trying the next candidate is the dispatcher's job.
type HTTPSyncCaller struct {
	client *http.Client
	domain string
	log    zerolog.Logger
}

func NewHTTPSyncCaller(domain string, log zerolog.Logger) *HTTPSyncCaller {
	return &HTTPSyncCaller{
		client: &http.Client{},
		domain: domain,
		log:    log,
	}
}

func (c *HTTPSyncCaller) Call(ctx context.Context, eventType string, ep *models.Endpoint, payload []byte, timeout time.Duration) json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.TargetURL, bytes.NewReader(payload))
	if err != nil {
		c.log.Debug().Err(err).Str("endpoint_id", ep.ID).Msg("sync call request build failed")
		return nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hookline/1.0")
	req.Header.Set(HeaderSignature, signing.Sign(ep.Secret, payload))
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderDomain, c.domain)
	for k, v := range ep.CustomHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("endpoint_id", ep.ID).Str("event_type", eventType).Msg("sync call failed")
		return nil
	}
	defer resp.Body.Close()

	if !IsSuccess(resp.StatusCode) {
		c.log.Debug().
			Int("status_code", resp.StatusCode).
			Str("endpoint_id", ep.ID).
			Str("event_type", eventType).
			Msg("sync call returned non-2xx")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}

	if !usableResponse(body) {
		c.log.Debug().
			Str("endpoint_id", ep.ID).
			Str("event_type", eventType).
			Dur("duration", time.Since(start)).
			Msg("sync call returned empty or invalid body")
		return nil
	}
	return json.RawMessage(body)
}

// usableResponse reports whether the body parses as JSON and carries an
// actual answer: null, {}, [] and "" all count as "no opinion".
func usableResponse(body []byte) bool {
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	switch v := parsed.(type) {
	case nil:
		return false
	case map[string]interface{}:
		return len(v) > 0
	case []interface{}:
		return len(v) > 0
	case string:
		return v != ""
	default:
		return true
	}
}

// BreakerGuardedCaller wraps another SyncCaller with the circuit breaker for
// a configured subset of event types; everything else passes straight
// through. Plain interface composition, per-call gate and record.
type BreakerGuardedCaller struct {
	inner   SyncCaller
	breaker *breaker.Breaker
	guarded map[string]struct{}
	log     zerolog.Logger
}

func NewBreakerGuardedCaller(inner SyncCaller, b *breaker.Breaker, guardedEvents []string, log zerolog.Logger) *BreakerGuardedCaller {
	guarded := make(map[string]struct{}, len(guardedEvents))
	for _, ev := range guardedEvents {
		guarded[ev] = struct{}{}
	}
	return &BreakerGuardedCaller{inner: inner, breaker: b, guarded: guarded, log: log}
}

func (c *BreakerGuardedCaller) Call(ctx context.Context, eventType string, ep *models.Endpoint, payload []byte, timeout time.Duration) json.RawMessage {
	if _, ok := c.guarded[eventType]; !ok {
		return c.inner.Call(ctx, eventType, ep, payload, timeout)
	}

	if !c.breaker.IsClosed(ctx, ep.IntegrationID) {
		c.log.Debug().
			Str("integration_id", ep.IntegrationID).
			Str("event_type", eventType).
			Msg("circuit breaker open, skipping sync call")
		return nil
	}

	resp := c.inner.Call(ctx, eventType, ep, payload, timeout)
	if resp != nil {
		c.breaker.RegisterSuccess(ctx, ep.IntegrationID)
	} else {
		c.breaker.RegisterError(ctx, ep.IntegrationID)
	}
	return resp
}
