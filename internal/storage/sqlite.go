package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hookline/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS integrations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			permissions TEXT NOT NULL DEFAULT '[]',
			active INTEGER NOT NULL DEFAULT 1,
			removed_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			integration_id TEXT NOT NULL REFERENCES integrations(id) ON DELETE CASCADE,
			name TEXT NOT NULL DEFAULT '',
			target_url TEXT NOT NULL,
			secret TEXT NOT NULL,
			subscription_query TEXT NOT NULL DEFAULT '',
			events TEXT NOT NULL DEFAULT '[]',
			defer_if TEXT NOT NULL DEFAULT '[]',
			custom_headers TEXT NOT NULL DEFAULT '{}',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			payload TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			delivery_id TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_integration ON endpoints(integration_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_endpoint ON deliveries(endpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_event ON deliveries(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_pending ON deliveries(status, next_retry_at) WHERE status IN ('pending', 'retrying')`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_delivery ON attempts(delivery_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Integrations ---

func (s *SQLiteStorage) CreateIntegration(ctx context.Context, in *models.Integration) error {
	perms, _ := json.Marshal(in.Permissions)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, name, permissions, active, removed_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Name, string(perms), boolInt(in.Active), in.RemovedAt, in.CreatedAt, in.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanIntegration(row interface{ Scan(...interface{}) error }) (*models.Integration, error) {
	var in models.Integration
	var perms string
	var active int
	err := row.Scan(&in.ID, &in.Name, &perms, &active, &in.RemovedAt, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(perms), &in.Permissions)
	in.Active = active == 1
	return &in, nil
}

func (s *SQLiteStorage) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, permissions, active, removed_at, created_at, updated_at FROM integrations WHERE id = ?`, id)
	in, err := s.scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return in, err
}

func (s *SQLiteStorage) ListIntegrations(ctx context.Context) ([]models.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, permissions, active, removed_at, created_at, updated_at FROM integrations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ins []models.Integration
	for rows.Next() {
		in, err := s.scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		ins = append(ins, *in)
	}
	return ins, rows.Err()
}

func (s *SQLiteStorage) RemoveIntegration(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET active = 0, removed_at = ?, updated_at = ? WHERE id = ? AND removed_at IS NULL`,
		now, now, id,
	)
	return err
}

// --- Endpoints ---

const endpointColumns = `id, integration_id, name, target_url, secret, subscription_query, events, defer_if, custom_headers, active, created_at, updated_at`

func (s *SQLiteStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, _ := json.Marshal(ep.Events)
	deferIf, _ := json.Marshal(ep.DeferIf)
	headers, _ := json.Marshal(ep.CustomHeaders)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.IntegrationID, ep.Name, ep.TargetURL, ep.Secret, ep.SubscriptionQuery,
		string(events), string(deferIf), string(headers), boolInt(ep.Active), ep.CreatedAt, ep.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanEndpoint(row interface{ Scan(...interface{}) error }) (*models.Endpoint, error) {
	var ep models.Endpoint
	var events, deferIf, headers string
	var active int
	err := row.Scan(&ep.ID, &ep.IntegrationID, &ep.Name, &ep.TargetURL, &ep.Secret, &ep.SubscriptionQuery,
		&events, &deferIf, &headers, &active, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(events), &ep.Events)
	json.Unmarshal([]byte(deferIf), &ep.DeferIf)
	json.Unmarshal([]byte(headers), &ep.CustomHeaders)
	ep.Active = active == 1
	return &ep, nil
}

func (s *SQLiteStorage) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`, id)
	ep, err := s.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStorage) ListEndpoints(ctx context.Context, integrationID string) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE integration_id = ? ORDER BY created_at DESC`, integrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStorage) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	events, _ := json.Marshal(ep.Events)
	deferIf, _ := json.Marshal(ep.DeferIf)
	headers, _ := json.Marshal(ep.CustomHeaders)
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET name = ?, target_url = ?, subscription_query = ?, events = ?, defer_if = ?, custom_headers = ?, active = ?, updated_at = ? WHERE id = ?`,
		ep.Name, ep.TargetURL, ep.SubscriptionQuery, string(events), string(deferIf), string(headers),
		boolInt(ep.Active), time.Now().UTC(), ep.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ToggleEndpoint(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) ListEligibleEndpoints(ctx context.Context) ([]EligibleEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.integration_id, e.name, e.target_url, e.secret, e.subscription_query,
		        e.events, e.defer_if, e.custom_headers, e.active, e.created_at, e.updated_at,
		        i.id, i.name, i.permissions, i.active, i.removed_at, i.created_at, i.updated_at
		 FROM endpoints e
		 JOIN integrations i ON e.integration_id = i.id
		 WHERE e.active = 1 AND i.active = 1 AND i.removed_at IS NULL
		 ORDER BY i.id, e.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EligibleEndpoint
	for rows.Next() {
		var ep models.Endpoint
		var in models.Integration
		var events, deferIf, headers, perms string
		var epActive, inActive int
		err := rows.Scan(&ep.ID, &ep.IntegrationID, &ep.Name, &ep.TargetURL, &ep.Secret, &ep.SubscriptionQuery,
			&events, &deferIf, &headers, &epActive, &ep.CreatedAt, &ep.UpdatedAt,
			&in.ID, &in.Name, &perms, &inActive, &in.RemovedAt, &in.CreatedAt, &in.UpdatedAt)
		if err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(events), &ep.Events)
		json.Unmarshal([]byte(deferIf), &ep.DeferIf)
		json.Unmarshal([]byte(headers), &ep.CustomHeaders)
		json.Unmarshal([]byte(perms), &in.Permissions)
		ep.Active = epActive == 1
		in.Active = inActive == 1
		out = append(out, EligibleEndpoint{Endpoint: ep, Integration: in})
	}
	return out, rows.Err()
}

// --- Deliveries ---

const deliveryColumns = `id, event_id, event_type, endpoint_id, payload, signature, status, attempt_count, next_retry_at, created_at, updated_at`

func (s *SQLiteStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (`+deliveryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EventID, d.EventType, d.EndpointID, string(d.Payload), d.Signature,
		d.Status, d.AttemptCount, d.NextRetryAt, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	var payload string
	err := row.Scan(&d.ID, &d.EventID, &d.EventType, &d.EndpointID, &payload, &d.Signature,
		&d.Status, &d.AttemptCount, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, attempt_count = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`,
		d.Status, d.AttemptCount, d.NextRetryAt, time.Now().UTC(), d.ID,
	)
	return err
}

func (s *SQLiteStorage) ClaimPendingDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+`
		 FROM deliveries
		 WHERE status IN ('pending', 'retrying') AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Single writer connection, so claim-after-select cannot interleave with
	// another claimer.
	now := time.Now().UTC()
	for i := range deliveries {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE deliveries SET status = 'sending', updated_at = ? WHERE id = ?`,
			now, deliveries[i].ID); err != nil {
			return nil, err
		}
		deliveries[i].Status = models.DeliverySending
	}
	return deliveries, nil
}

func (s *SQLiteStorage) ListDeliveriesByEndpoint(ctx context.Context, endpointID string, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE endpoint_id = ? ORDER BY created_at DESC LIMIT ?`,
		endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func (s *SQLiteStorage) HasInFlightDelivery(ctx context.Context, endpointID string) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE endpoint_id = ? AND status IN ('pending', 'sending', 'retrying')`,
		endpointID).Scan(&count)
	return count > 0, err
}

func (s *SQLiteStorage) RequeueDelivery(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = 'pending', attempt_count = 0, next_retry_at = NULL, updated_at = ? WHERE id = ? AND status = 'failed'`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Attempts ---

func (s *SQLiteStorage) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, delivery_id, attempt_number, status_code, response_body, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeliveryID, a.AttemptNumber, a.StatusCode, a.ResponseBody, a.DurationMs, a.Error, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delivery_id, attempt_number, status_code, response_body, duration_ms, error, created_at FROM attempts WHERE delivery_id = ? ORDER BY attempt_number`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.AttemptNumber, &a.StatusCode, &a.ResponseBody, &a.DurationMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, integrationID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN endpoints e ON d.endpoint_id = e.id WHERE e.integration_id = ?`, integrationID).Scan(&stats.TotalDeliveries)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN endpoints e ON d.endpoint_id = e.id WHERE e.integration_id = ? AND d.status = 'success'`, integrationID).Scan(&stats.SuccessCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN endpoints e ON d.endpoint_id = e.id WHERE e.integration_id = ? AND d.status = 'failed'`, integrationID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN endpoints e ON d.endpoint_id = e.id WHERE e.integration_id = ? AND d.status IN ('pending', 'sending', 'retrying')`, integrationID).Scan(&stats.PendingCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints WHERE integration_id = ?`, integrationID).Scan(&stats.TotalEndpoints)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints WHERE integration_id = ? AND active = 1`, integrationID).Scan(&stats.ActiveEndpoints)

	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalDeliveries) * 100
	}

	return stats, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
