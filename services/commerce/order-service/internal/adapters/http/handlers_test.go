package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/adapters/memory"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/adapters/replicas"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/application"
)

func newTestRouter(t *testing.T, stock int) http.Handler {
	t.Helper()
	store := replica.NewMemoryStore(replica.DefaultMaxParked)
	if _, err := store.Apply(context.Background(), replica.Change{
		Kind: replicas.ItemKind, ID: "item-1", Version: 0, Creates: true,
		Attributes: map[string]any{"item_id": "item-1", "title": "Mug", "price": 1200, "quantity": stock},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	items := replicas.NewItems(store)
	service := application.NewService(application.Dependencies{
		Items:  items,
		Orders: memory.NewOrderRepository(items, outbox.NewMemoryRepository()),
	})
	return NewRouter(NewHandler(service), nil)
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPlaceAndFetchOrder(t *testing.T) {
	router := newTestRouter(t, 3)
	rec := do(router, http.MethodPost, "/v1/orders", `{"user_id":"u1","items":[{"entity_id":"item-1","quantity":2}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var order orderResponse
	if err := json.Unmarshal(decode(t, rec).Data, &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Total != 2400 || order.Status != "created" {
		t.Fatalf("unexpected order %+v", order)
	}

	rec = do(router, http.MethodGet, "/v1/orders/"+order.OrderID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = do(router, http.MethodGet, "/v1/orders/availability/item-1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"available":1`) {
		t.Fatalf("unexpected availability response %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(router, http.MethodPost, "/v1/orders/"+order.OrderID+"/payment", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"awaiting_payment"`) {
		t.Fatalf("begin payment: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	router := newTestRouter(t, 1)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"insufficient", http.MethodPost, "/v1/orders", `{"user_id":"u1","items":[{"entity_id":"item-1","quantity":5}]}`, http.StatusConflict, "INSUFFICIENT_INVENTORY"},
		{"unknown item", http.MethodPost, "/v1/orders", `{"user_id":"u1","items":[{"entity_id":"nope","quantity":1}]}`, http.StatusUnprocessableEntity, "UNKNOWN_ITEM"},
		{"bad json", http.MethodPost, "/v1/orders", `{"user_id":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing user", http.MethodGet, "/v1/orders", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", http.MethodGet, "/v1/orders/missing", "", http.StatusNotFound, "NOT_FOUND"},
		{"cancel missing", http.MethodPost, "/v1/orders/missing/cancel", "", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(router, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if got := decode(t, rec).Code; got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
		})
	}
}
