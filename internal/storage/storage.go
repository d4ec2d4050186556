package storage

import (
	"context"
	"errors"

	"hookline/internal/models"
)

// ErrNotFound is the sentinel for missing rows surfaced through helpers; the
// Get* methods themselves return (nil, nil) for missing rows, matching
// database/sql ergonomics.
var ErrNotFound = errors.New("not found")

type Storage interface {
	// Integrations
	CreateIntegration(ctx context.Context, in *models.Integration) error
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	ListIntegrations(ctx context.Context) ([]models.Integration, error)
	// RemoveIntegration soft-deletes: sets removed_at and deactivates. The
	// row survives so delivery history keeps resolving.
	RemoveIntegration(ctx context.Context, id string) error

	// Endpoints
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context, integrationID string) ([]models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	ToggleEndpoint(ctx context.Context, id string, active bool) error
	// ListEligibleEndpoints returns every active endpoint whose owning
	// integration is active and not removed, joined with that integration.
	ListEligibleEndpoints(ctx context.Context) ([]EligibleEndpoint, error)

	// Deliveries
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	// ClaimPendingDeliveries fetches up to limit due deliveries and marks
	// them sending so the next poll tick does not pick them up again.
	ClaimPendingDeliveries(ctx context.Context, limit int) ([]models.Delivery, error)
	ListDeliveriesByEndpoint(ctx context.Context, endpointID string, limit int) ([]models.Delivery, error)
	HasInFlightDelivery(ctx context.Context, endpointID string) (bool, error)
	// RequeueDelivery puts a failed delivery back into pending with a fresh
	// attempt budget. Manual operator action.
	RequeueDelivery(ctx context.Context, id string) error

	// Attempts
	CreateAttempt(ctx context.Context, a *models.Attempt) error
	GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.Attempt, error)

	// Stats
	GetStats(ctx context.Context, integrationID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// EligibleEndpoint pairs an endpoint with its owning integration so the
// dispatcher can check permissions and order sync candidates without extra
// lookups.
type EligibleEndpoint struct {
	Endpoint    models.Endpoint
	Integration models.Integration
}

type Stats struct {
	TotalDeliveries int64   `json:"total_deliveries"`
	SuccessCount    int64   `json:"success_count"`
	FailedCount     int64   `json:"failed_count"`
	PendingCount    int64   `json:"pending_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalEndpoints  int64   `json:"total_endpoints"`
	ActiveEndpoints int64   `json:"active_endpoints"`
}
