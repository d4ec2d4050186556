package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hookline/internal/breaker"
	"hookline/internal/config"
	"hookline/internal/dispatch"
	"hookline/internal/models"
	"hookline/internal/schema"
	"hookline/internal/storage"
	"hookline/internal/subscription"
	"hookline/internal/transport"
)

// nullCaller answers nothing; management API tests never reach receivers.
type nullCaller struct{}

func (nullCaller) Call(context.Context, string, *models.Endpoint, []byte, time.Duration) json.RawMessage {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, storage.Storage) {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := zerolog.Nop()
	parser := subscription.NewParser(schema.Load())
	registry := schema.NewRegistry()
	brk := breaker.New(breaker.Config{
		FailureThreshold: 50, FailureMinCount: 10,
		Cooldown: time.Minute, TTL: time.Minute,
	}, breaker.NewMemoryStorage(), log)

	evaluator, err := dispatch.NewExprEvaluator(dispatch.DefaultConditions(), log)
	if err != nil {
		t.Fatalf("compile conditions: %v", err)
	}
	var _ transport.SyncCaller = nullCaller{}
	dispatcher := dispatch.New(store, registry, parser, dispatch.SubjectRenderer{}, nullCaller{}, evaluator, log)

	s := NewServer(config.ServerConfig{}, store, dispatcher, brk, parser, registry, 5*time.Second, log)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createTestIntegration(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations", map[string]interface{}{
		"name":        "acme",
		"permissions": []string{"MANAGE_ORDERS", "HANDLE_TAXES"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create integration: status %d, body %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func TestCreateEndpointWithDocumentAutoPopulatesEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	intID := createTestIntegration(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations/"+intID+"/endpoints", map[string]interface{}{
		"name":       "orders",
		"target_url": "https://receiver.example/hooks",
		"subscription_query": `subscription {
			event {
				... on OrderCreated { order { id } }
				... on OrderUpdated { order { id } }
			}
		}`,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}

	events, _ := body["events"].([]interface{})
	if len(events) != 2 || events[0] != "order_created" || events[1] != "order_updated" {
		t.Errorf("events = %v, want parsed event names", events)
	}
	if sec, _ := body["secret"].(string); sec == "" {
		t.Error("created endpoint must carry a generated secret")
	}
}

func TestCreateEndpointRejectsInvalidDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	intID := createTestIntegration(t, srv)

	tests := []struct {
		name     string
		document string
		wantCode string
	}{
		{"syntax", `subscription { event {`, "SYNTAX"},
		{"unknown field", `subscription { orderTeleported { x } }`, "GRAPHQL_ERROR"},
		{"no subscription", `query { version }`, "MISSING_SUBSCRIPTION"},
		{"two fields", `subscription { orderCreated { order { id } } productCreated { product { id } } }`, "INVALID"},
		{"no fragments", `subscription { event { issuedAt } }`, "MISSING_EVENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations/"+intID+"/endpoints", map[string]interface{}{
				"target_url":         "https://receiver.example/hooks",
				"subscription_query": tt.document,
			})
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if code, _ := body["code"].(string); code != tt.wantCode {
				t.Errorf("code = %q, want %q (%v)", code, tt.wantCode, body)
			}
		})
	}
}

func TestCreateEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	intID := createTestIntegration(t, srv)
	base := srv.URL + "/api/v1/integrations/" + intID + "/endpoints"

	resp, body := doJSON(t, http.MethodPost, base, map[string]interface{}{
		"target_url": "https://receiver.example/hooks",
		"events":     []string{"order_teleported"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown static event: status = %d", resp.StatusCode)
	}
	if code, _ := body["code"].(string); code != CodeInvalid {
		t.Errorf("code = %q, want %s", code, CodeInvalid)
	}

	resp, body = doJSON(t, http.MethodPost, base, map[string]interface{}{
		"target_url":     "https://receiver.example/hooks",
		"events":         []string{"order_created"},
		"custom_headers": map[string]string{"Cookie": "session=1"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad custom header: status = %d", resp.StatusCode)
	}
	if code, _ := body["code"].(string); code != CodeInvalidCustomHeaders {
		t.Errorf("code = %q, want %s", code, CodeInvalidCustomHeaders)
	}

	resp, _ = doJSON(t, http.MethodPost, base, map[string]interface{}{
		"target_url": "gopher://receiver.example",
		"events":     []string{"order_created"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unsupported scheme: status = %d, want 400", resp.StatusCode)
	}

	// amqp targets are accepted, the queue transport handles them.
	resp, _ = doJSON(t, http.MethodPost, base, map[string]interface{}{
		"target_url": "amqp://broker.internal:5672/?queue=orders",
		"events":     []string{"order_created"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("amqp target: status = %d, want 201", resp.StatusCode)
	}
}

func TestCreateEndpointOnRemovedIntegration(t *testing.T) {
	srv, _ := newTestServer(t)
	intID := createTestIntegration(t, srv)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/integrations/"+intID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove integration: status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations/"+intID+"/endpoints", map[string]interface{}{
		"target_url": "https://receiver.example/hooks",
		"events":     []string{"order_created"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404, body %v", resp.StatusCode, body)
	}
}

func TestDeleteEndpointConflictDeactivates(t *testing.T) {
	srv, store := newTestServer(t)
	intID := createTestIntegration(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations/"+intID+"/endpoints", map[string]interface{}{
		"target_url": "https://receiver.example/hooks",
		"events":     []string{"order_created"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create endpoint: status %d", resp.StatusCode)
	}
	epID := body["id"].(string)

	now := time.Now().UTC()
	err := store.CreateDelivery(context.Background(), &models.Delivery{
		ID: "dlv_1", EventID: "ev_1", EventType: "order_created", EndpointID: epID,
		Payload: []byte(`{}`), Status: models.DeliveryPending, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed delivery: %v", err)
	}

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/endpoints/"+epID, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if code, _ := body["code"].(string); code != CodeDeleteFailed {
		t.Errorf("code = %q, want %s", code, CodeDeleteFailed)
	}

	ep, _ := store.GetEndpoint(context.Background(), epID)
	if ep == nil || ep.Active {
		t.Error("conflicting delete must deactivate the endpoint")
	}

	// Once the delivery settles, deletion goes through.
	if err := store.UpdateDelivery(context.Background(), &models.Delivery{ID: "dlv_1", Status: models.DeliveryFailed}); err != nil {
		t.Fatalf("settle delivery: %v", err)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/endpoints/"+epID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

func TestFireEventEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	intID := createTestIntegration(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations/"+intID+"/endpoints", map[string]interface{}{
		"target_url": "https://receiver.example/hooks",
		"events":     []string{"order_created"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create endpoint: status %d", resp.StatusCode)
	}
	epID := body["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/events", map[string]interface{}{
		"event_type": "order_created",
		"payload":    map[string]interface{}{"order_id": "o1"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("fire event: status = %d", resp.StatusCode)
	}

	deliveries, err := store.ListDeliveriesByEndpoint(context.Background(), epID, 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	if deliveries[0].Status != models.DeliveryPending {
		t.Errorf("status = %s, want pending", deliveries[0].Status)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/events", map[string]interface{}{
		"event_type": "order_teleported",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown event: status = %d, body %v", resp.StatusCode, body)
	}
}

func TestSyncEventEndpointNoCandidates(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/events/sync", map[string]interface{}{
		"event_type": "checkout_calculate_taxes",
		"payload":    map[string]interface{}{"checkout_id": "c1"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["response"] != nil {
		t.Errorf("response = %v, want null when nobody answers", body["response"])
	}
}

func TestDeliveryRetryEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	intID := createTestIntegration(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations/"+intID+"/endpoints", map[string]interface{}{
		"target_url": "https://receiver.example/hooks",
		"events":     []string{"order_created"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create endpoint: status %d", resp.StatusCode)
	}
	epID := body["id"].(string)

	now := time.Now().UTC()
	if err := store.CreateDelivery(context.Background(), &models.Delivery{
		ID: "dlv_1", EventID: "ev_1", EventType: "order_created", EndpointID: epID,
		Payload: []byte(`{}`), Status: models.DeliveryFailed, AttemptCount: 6,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed delivery: %v", err)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/deliveries/dlv_1/retry", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("retry: status = %d", resp.StatusCode)
	}
	d, _ := store.GetDelivery(context.Background(), "dlv_1")
	if d.Status != models.DeliveryPending || d.AttemptCount != 0 {
		t.Errorf("delivery after retry = %+v, want fresh pending", d)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/deliveries/dlv_missing/retry", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing delivery: status = %d", resp.StatusCode)
	}
	if code, _ := body["code"].(string); code != CodeNotFound {
		t.Errorf("code = %q, want %s", code, CodeNotFound)
	}
}

func TestIntegrationStatsAndBreakerReset(t *testing.T) {
	srv, _ := newTestServer(t)
	intID := createTestIntegration(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/integrations/"+intID+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status = %d", resp.StatusCode)
	}
	if _, ok := body["total_deliveries"]; !ok {
		t.Errorf("stats body = %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/integrations/"+intID+"/breaker/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("breaker reset: status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/integrations/int_missing/breaker/reset", srv.URL), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing integration reset: status = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}
