package breaker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// State of an integration's breaker. Transitions are lazy: Closed→Open inside
// RegisterError, Open→Closed inside RegisterSuccess once the cooldown has
// elapsed. HalfOpen is the observable in-between: the breaker is still
// recorded open but the cooldown has passed, so calls are let through again.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const (
	counterError = "error"
	counterTotal = "total"
)

// Config tunes the sliding-window failure tracker.
type Config struct {
	// FailureThreshold is the error percentage (0–100) at which the breaker
	// trips.
	FailureThreshold int
	// FailureMinCount is the minimum number of windowed calls before the
	// ratio is considered at all.
	FailureMinCount int
	// Cooldown is how long a tripped breaker short-circuits calls.
	Cooldown time.Duration
	// TTL bounds the sliding window for both counters.
	TTL time.Duration
}

// Storage keeps per-integration breaker state. Implementations must fail
// open: on store trouble they return zero counts and a closed state instead
// of an error, so a broken store never blocks deliveries.
type Storage interface {
	// LastOpen returns the unix timestamp the breaker last opened at (0 if
	// never) and the recorded state.
	LastOpen(ctx context.Context, integrationID string) (int64, State, error)
	UpdateOpen(ctx context.Context, integrationID string, openedAt int64, state State) error
	// RegisterEvent appends one timestamped event to the named counter,
	// evicts entries older than ttl and returns the surviving count.
	RegisterEvent(ctx context.Context, integrationID, counter string, ttl time.Duration) (int, error)
	ClearState(ctx context.Context, integrationID string) error
}

// Breaker gates sync deliveries per integration.
type Breaker struct {
	cfg   Config
	store Storage
	log   zerolog.Logger
	now   func() time.Time
}

func New(cfg Config, store Storage, log zerolog.Logger) *Breaker {
	return &Breaker{cfg: cfg, store: store, log: log, now: time.Now}
}

// IsClosed reports whether the integration is currently callable: the breaker
// never opened, or it opened longer than the cooldown ago. The check never
// clears stored state; only a later RegisterSuccess does.
func (b *Breaker) IsClosed(ctx context.Context, integrationID string) bool {
	lastOpen, _, err := b.store.LastOpen(ctx, integrationID)
	if err != nil {
		b.log.Warn().Err(err).Str("integration_id", integrationID).Msg("breaker storage unavailable, failing open")
		return true
	}
	return lastOpen == 0 || lastOpen < b.now().Add(-b.cfg.Cooldown).Unix()
}

// State reports the observable breaker state without mutating anything.
func (b *Breaker) State(ctx context.Context, integrationID string) State {
	lastOpen, _, err := b.store.LastOpen(ctx, integrationID)
	if err != nil || lastOpen == 0 {
		return Closed
	}
	if lastOpen < b.now().Add(-b.cfg.Cooldown).Unix() {
		return HalfOpen
	}
	return Open
}

// RegisterError records a failed call and trips the breaker when the
// windowed failure ratio crosses the threshold.
func (b *Breaker) RegisterError(ctx context.Context, integrationID string) {
	errCount, err := b.store.RegisterEvent(ctx, integrationID, counterError, b.cfg.TTL)
	if err != nil {
		b.log.Warn().Err(err).Str("integration_id", integrationID).Msg("breaker storage unavailable, dropping error event")
		return
	}
	total, err := b.store.RegisterEvent(ctx, integrationID, counterTotal, b.cfg.TTL)
	if err != nil {
		return
	}

	if total < b.cfg.FailureMinCount {
		return
	}
	if errCount*100 < b.cfg.FailureThreshold*total {
		return
	}

	lastOpen, _, err := b.store.LastOpen(ctx, integrationID)
	if err != nil {
		return
	}
	now := b.now()
	// Refresh the open timestamp unless the breaker is already open within
	// its cooldown; a half-open breaker that keeps failing re-trips here.
	if lastOpen != 0 && lastOpen >= now.Add(-b.cfg.Cooldown).Unix() {
		return
	}
	if err := b.store.UpdateOpen(ctx, integrationID, now.Unix(), Open); err != nil {
		return
	}
	b.log.Warn().
		Str("integration_id", integrationID).
		Int("errors", errCount).
		Int("total", total).
		Msg("circuit breaker tripped")
}

// RegisterSuccess records a successful call and, if the breaker is open with
// an elapsed cooldown, recovers it back to closed.
func (b *Breaker) RegisterSuccess(ctx context.Context, integrationID string) {
	if _, err := b.store.RegisterEvent(ctx, integrationID, counterTotal, b.cfg.TTL); err != nil {
		b.log.Warn().Err(err).Str("integration_id", integrationID).Msg("breaker storage unavailable, dropping success event")
		return
	}

	lastOpen, state, err := b.store.LastOpen(ctx, integrationID)
	if err != nil || state == Closed || lastOpen == 0 {
		return
	}
	if lastOpen >= b.now().Add(-b.cfg.Cooldown).Unix() {
		return
	}
	if err := b.store.UpdateOpen(ctx, integrationID, 0, Closed); err != nil {
		return
	}
	b.log.Info().Str("integration_id", integrationID).Msg("circuit breaker recovered")
}

// Clear wipes all breaker state for an integration. Admin action.
func (b *Breaker) Clear(ctx context.Context, integrationID string) error {
	return b.store.ClearState(ctx, integrationID)
}
