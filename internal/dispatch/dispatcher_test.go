package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hookline/internal/models"
	"hookline/internal/schema"
	"hookline/internal/storage"
	"hookline/internal/subscription"
)

// recordingCaller returns canned answers per endpoint id and records the
// order endpoints were tried in.
type recordingCaller struct {
	answers map[string]json.RawMessage
	called  []string
}

func (c *recordingCaller) Call(_ context.Context, _ string, ep *models.Endpoint, _ []byte, _ time.Duration) json.RawMessage {
	c.called = append(c.called, ep.ID)
	return c.answers[ep.ID]
}

func newTestDispatcher(t *testing.T, caller *recordingCaller) (*Dispatcher, storage.Storage) {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	evaluator, err := NewExprEvaluator(DefaultConditions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("compile conditions: %v", err)
	}

	d := New(
		store,
		schema.NewRegistry(),
		subscription.NewParser(schema.Load()),
		SubjectRenderer{},
		caller,
		evaluator,
		zerolog.Nop(),
	)
	return d, store
}

func seedIntegration(t *testing.T, store storage.Storage, id string, permissions ...string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.CreateIntegration(context.Background(), &models.Integration{
		ID:          id,
		Name:        id,
		Permissions: permissions,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("seed integration %s: %v", id, err)
	}
}

func seedEndpoint(t *testing.T, store storage.Storage, ep models.Endpoint) {
	t.Helper()
	now := time.Now().UTC()
	ep.CreatedAt = now
	ep.UpdatedAt = now
	if ep.Name == "" {
		ep.Name = ep.ID
	}
	if ep.TargetURL == "" {
		ep.TargetURL = "https://receiver.example/hooks"
	}
	if ep.Secret == "" {
		ep.Secret = "whsec_test"
	}
	ep.Active = true
	if err := store.CreateEndpoint(context.Background(), &ep); err != nil {
		t.Fatalf("seed endpoint %s: %v", ep.ID, err)
	}
}

func countDeliveries(t *testing.T, store storage.Storage, endpointID string) int {
	t.Helper()
	ds, err := store.ListDeliveriesByEndpoint(context.Background(), endpointID, 100)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	return len(ds)
}

func TestFireEventEnqueuesPerMatchingEndpoint(t *testing.T) {
	d, store := newTestDispatcher(t, &recordingCaller{})
	ctx := context.Background()

	seedIntegration(t, store, "int_a", schema.PermManageOrders)
	seedEndpoint(t, store, models.Endpoint{
		ID:            "wh_doc",
		IntegrationID: "int_a",
		SubscriptionQuery: `subscription {
			event { ... on OrderCreated { order { id } } }
		}`,
		Events: []string{"order_created"},
	})
	seedEndpoint(t, store, models.Endpoint{
		ID:            "wh_static",
		IntegrationID: "int_a",
		Events:        []string{"order_created", "order_updated"},
	})
	seedEndpoint(t, store, models.Endpoint{
		ID:            "wh_other",
		IntegrationID: "int_a",
		Events:        []string{"product_created"},
	})

	subject := map[string]interface{}{"order": map[string]interface{}{"id": "o1"}}
	static := json.RawMessage(`{"order_id":"o1"}`)
	if err := d.FireEvent(ctx, "order_created", subject, static, "req_1"); err != nil {
		t.Fatalf("FireEvent: %v", err)
	}

	if n := countDeliveries(t, store, "wh_doc"); n != 1 {
		t.Errorf("document endpoint got %d deliveries, want 1", n)
	}
	if n := countDeliveries(t, store, "wh_static"); n != 1 {
		t.Errorf("static endpoint got %d deliveries, want 1", n)
	}
	if n := countDeliveries(t, store, "wh_other"); n != 0 {
		t.Errorf("non-subscribed endpoint got %d deliveries, want 0", n)
	}

	// Each delivery carries its own rendered payload and a signature
	// computed with the endpoint's secret at enqueue time.
	docDeliveries, _ := store.ListDeliveriesByEndpoint(ctx, "wh_doc", 1)
	staticDeliveries, _ := store.ListDeliveriesByEndpoint(ctx, "wh_static", 1)
	if string(docDeliveries[0].Payload) == string(staticDeliveries[0].Payload) {
		t.Error("document and static endpoints should get independently rendered payloads")
	}
	if docDeliveries[0].Signature == "" || staticDeliveries[0].Signature == "" {
		t.Error("deliveries must carry precomputed signatures")
	}
	if docDeliveries[0].EventID != staticDeliveries[0].EventID {
		t.Error("deliveries from one firing must share the event id")
	}
}

func TestFireEventRejectsUnknownAndSyncTypes(t *testing.T) {
	d, _ := newTestDispatcher(t, &recordingCaller{})
	ctx := context.Background()

	if err := d.FireEvent(ctx, "order_teleported", nil, nil, ""); err == nil {
		t.Error("expected error for unknown event type")
	}
	if err := d.FireEvent(ctx, "checkout_calculate_taxes", nil, nil, ""); err == nil {
		t.Error("expected error for sync event type on FireEvent")
	}
	if _, err := d.RequestSyncAnswer(ctx, "order_created", nil, nil, time.Second); err == nil {
		t.Error("expected error for async event type on RequestSyncAnswer")
	}
}

func TestFireEventSkipsIneligibleEndpoints(t *testing.T) {
	d, store := newTestDispatcher(t, &recordingCaller{})
	ctx := context.Background()

	// Lacks the MANAGE_ORDERS permission entirely.
	seedIntegration(t, store, "int_noperm", schema.PermManageProducts)
	seedEndpoint(t, store, models.Endpoint{
		ID:            "wh_noperm",
		IntegrationID: "int_noperm",
		Events:        []string{"order_created"},
	})

	// Valid subscription but soft-removed integration.
	seedIntegration(t, store, "int_removed", schema.PermManageOrders)
	seedEndpoint(t, store, models.Endpoint{
		ID:            "wh_removed",
		IntegrationID: "int_removed",
		Events:        []string{"order_created"},
	})
	if err := store.RemoveIntegration(ctx, "int_removed"); err != nil {
		t.Fatalf("remove integration: %v", err)
	}

	// Invalid document: skipped, and its static list must not be used as
	// a fallback.
	seedIntegration(t, store, "int_bad", schema.PermManageOrders)
	seedEndpoint(t, store, models.Endpoint{
		ID:                "wh_baddoc",
		IntegrationID:     "int_bad",
		SubscriptionQuery: `subscription { event {`,
		Events:            []string{"order_created"},
	})

	if err := d.FireEvent(ctx, "order_created", nil, json.RawMessage(`{}`), ""); err != nil {
		t.Fatalf("FireEvent: %v", err)
	}

	for _, id := range []string{"wh_noperm", "wh_removed", "wh_baddoc"} {
		if n := countDeliveries(t, store, id); n != 0 {
			t.Errorf("endpoint %s got %d deliveries, want 0", id, n)
		}
	}
}

func TestRequestSyncAnswerFirstUsableWins(t *testing.T) {
	caller := &recordingCaller{answers: map[string]json.RawMessage{
		"wh_b": json.RawMessage(`{"tax":7}`),
		"wh_c": json.RawMessage(`{"tax":9}`),
	}}
	d, store := newTestDispatcher(t, caller)
	ctx := context.Background()

	// Candidate order is (integration id, endpoint id), not insertion order.
	seedIntegration(t, store, "int_2", schema.PermHandleTaxes)
	seedEndpoint(t, store, models.Endpoint{
		ID: "wh_c", IntegrationID: "int_2",
		Events: []string{"checkout_calculate_taxes"},
	})
	seedIntegration(t, store, "int_1", schema.PermHandleTaxes)
	seedEndpoint(t, store, models.Endpoint{
		ID: "wh_a", IntegrationID: "int_1",
		Events: []string{"checkout_calculate_taxes"},
	})
	seedEndpoint(t, store, models.Endpoint{
		ID: "wh_b", IntegrationID: "int_1",
		Events: []string{"checkout_calculate_taxes"},
	})

	resp, err := d.RequestSyncAnswer(ctx, "checkout_calculate_taxes", nil, json.RawMessage(`{}`), time.Second)
	if err != nil {
		t.Fatalf("RequestSyncAnswer: %v", err)
	}
	if string(resp) != `{"tax":7}` {
		t.Errorf("response = %s, want first usable answer", resp)
	}
	// wh_a answered nil, wh_b answered; wh_c never called.
	want := []string{"wh_a", "wh_b"}
	if len(caller.called) != 2 || caller.called[0] != want[0] || caller.called[1] != want[1] {
		t.Errorf("called = %v, want %v", caller.called, want)
	}
}

func TestRequestSyncAnswerExhaustionIsNotAnError(t *testing.T) {
	caller := &recordingCaller{}
	d, store := newTestDispatcher(t, caller)
	ctx := context.Background()

	seedIntegration(t, store, "int_1", schema.PermHandleTaxes)
	seedEndpoint(t, store, models.Endpoint{
		ID: "wh_a", IntegrationID: "int_1",
		Events: []string{"checkout_calculate_taxes"},
	})

	resp, err := d.RequestSyncAnswer(ctx, "checkout_calculate_taxes", nil, json.RawMessage(`{}`), time.Second)
	if err != nil {
		t.Fatalf("RequestSyncAnswer: %v", err)
	}
	if resp != nil {
		t.Errorf("response = %s, want nil", resp)
	}
}

func TestRequestSyncAnswerSkipsDeferredCandidates(t *testing.T) {
	caller := &recordingCaller{answers: map[string]json.RawMessage{
		"wh_deferred": json.RawMessage(`{"tax":1}`),
		"wh_plain":    json.RawMessage(`{"tax":2}`),
	}}
	d, store := newTestDispatcher(t, caller)
	ctx := context.Background()

	seedIntegration(t, store, "int_1", schema.PermHandleTaxes)
	seedEndpoint(t, store, models.Endpoint{
		ID: "wh_deferred", IntegrationID: "int_1",
		Events:  []string{"checkout_calculate_taxes"},
		DeferIf: []string{"ADDRESS_MISSING"},
	})
	seedEndpoint(t, store, models.Endpoint{
		ID: "wh_plain", IntegrationID: "int_1",
		Events: []string{"checkout_calculate_taxes"},
	})

	// Subject without a shipping address: the first candidate defers and is
	// skipped without being called at all.
	subject := map[string]interface{}{"lines": []interface{}{"line1"}}
	resp, err := d.RequestSyncAnswer(ctx, "checkout_calculate_taxes", subject, json.RawMessage(`{}`), time.Second)
	if err != nil {
		t.Fatalf("RequestSyncAnswer: %v", err)
	}
	if string(resp) != `{"tax":2}` {
		t.Errorf("response = %s, want answer from non-deferred candidate", resp)
	}
	if len(caller.called) != 1 || caller.called[0] != "wh_plain" {
		t.Errorf("called = %v, want [wh_plain]", caller.called)
	}

	// With an address present the deferred candidate is consulted first.
	caller.called = nil
	subject["shipping_address"] = map[string]interface{}{"city": "Praha"}
	resp, err = d.RequestSyncAnswer(ctx, "checkout_calculate_taxes", subject, json.RawMessage(`{}`), time.Second)
	if err != nil {
		t.Fatalf("RequestSyncAnswer: %v", err)
	}
	if string(resp) != `{"tax":1}` {
		t.Errorf("response = %s, want answer from first candidate", resp)
	}
}

func TestExprEvaluator(t *testing.T) {
	e, err := NewExprEvaluator(DefaultConditions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExprEvaluator: %v", err)
	}

	tests := []struct {
		name      string
		condition string
		subject   map[string]interface{}
		want      bool
	}{
		{"missing address defers", "ADDRESS_MISSING", map[string]interface{}{}, true},
		{"present address does not", "ADDRESS_MISSING", map[string]interface{}{"shipping_address": map[string]interface{}{}}, false},
		{"empty lines defer", "LINES_EMPTY", map[string]interface{}{"lines": []interface{}{}}, true},
		{"nonempty lines do not", "LINES_EMPTY", map[string]interface{}{"lines": []interface{}{"x"}}, false},
		{"unknown condition never defers", "MOON_PHASE_WRONG", map[string]interface{}{}, false},
		{"nil subject", "ADDRESS_MISSING", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(tt.condition, tt.subject); got != tt.want {
				t.Errorf("Evaluate(%s) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}
