package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/pkg/idempotency"
	"github.com/nazeru/market-ledger-go/pkg/metrics"
)

type harness struct {
	srv     *httptest.Server
	vault   *payout.MemoryVault
	metrics *metrics.ServerMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	vault := payout.NewMemoryVault()
	l, err := ledger.Open(context.Background(), ledger.Options{Vault: vault, Service: "test"})
	require.NoError(t, err)
	m := metrics.NewServerMetrics("test", prometheus.NewRegistry())
	srv := httptest.NewServer((&Server{Ledger: l, Metrics: m, Service: "test"}).Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, vault: vault, metrics: m}
}

func (h *harness) do(t *testing.T, method, path, account string, body any, hdr ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (h *harness) listItem(t *testing.T, seller string, in ledger.ItemInput) string {
	t.Helper()
	code, body := h.do(t, http.MethodPost, "/v1/items", seller, in)
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func TestPhysicalOrderOverHTTP(t *testing.T) {
	h := newHarness(t)
	item := h.listItem(t, "alice", ledger.ItemInput{Kind: domain.KindProduct, Title: "lamp", Price: 40, Inventory: 3})

	code, cart := h.do(t, http.MethodPost, "/v1/cart/items", "bob", map[string]any{"item_id": item, "quantity": 2})
	require.Equal(t, http.StatusOK, code, cart)
	assert.EqualValues(t, 80, cart["total"])

	code, rc := h.do(t, http.MethodPost, "/v1/checkout", "bob", map[string]any{"deliver_to_address": "1 Main St", "tendered": 80})
	require.Equal(t, http.StatusCreated, code, rc)
	orders := rc["orders"].([]any)
	require.Len(t, orders, 1)
	orderID := orders[0].(map[string]any)["id"].(string)

	code, o := h.do(t, http.MethodPost, "/v1/orders/"+orderID+"/advance", "alice", map[string]any{"tracking": "TRK1", "shipped": true})
	require.Equal(t, http.StatusOK, code, o)
	assert.Equal(t, "shipped", o["status"])
	assert.Equal(t, domain.Amount(80), h.vault.Credited("alice"))

	code, o = h.do(t, http.MethodPost, "/v1/orders/"+orderID+"/advance", "alice", map[string]any{"tracking": "TRK1", "delivered": true})
	require.Equal(t, http.StatusOK, code, o)
	assert.Equal(t, "delivered", o["status"])
	assert.Equal(t, domain.Amount(80), h.vault.Credited("alice"))

	code, view := h.do(t, http.MethodGet, "/v1/orders/"+orderID, "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "TRK1", view["order"].(map[string]any)["tracking"])
	assert.Empty(t, view["messages"])

	code, rev := h.do(t, http.MethodPost, "/v1/items/"+item+"/ratings", "bob", map[string]any{"rating": 4, "text": "good"})
	require.Equal(t, http.StatusCreated, code, rev)

	code, stats := h.do(t, http.MethodGet, "/v1/market/stats", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, stats["orders"])
	assert.EqualValues(t, 1, stats["sellers"])
}

func TestErrorStatuses(t *testing.T) {
	h := newHarness(t)
	item := h.listItem(t, "alice", ledger.ItemInput{Kind: domain.KindProduct, Title: "mug", Price: 10, Inventory: 1})

	cases := []struct {
		name    string
		method  string
		path    string
		account string
		body    any
		status  int
		code    string
	}{
		{"missing account", http.MethodGet, "/v1/cart", "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"bad hash", http.MethodGet, "/v1/items/xyz", "bob", nil, http.StatusBadRequest, "bad_request"},
		{"unknown item", http.MethodGet, "/v1/items/" + domain.DeriveID("nope").String(), "bob", nil, http.StatusNotFound, "item_does_not_exist"},
		{"bad kind", http.MethodPost, "/v1/items", "alice", map[string]any{"kind": "vehicle", "title": "x"}, http.StatusUnprocessableEntity, "invalid_kind"},
		{"not owner", http.MethodDelete, "/v1/items/" + item, "mallory", nil, http.StatusForbidden, "not_your_product"},
		{"empty cart", http.MethodPost, "/v1/checkout", "bob", map[string]any{"tendered": 10}, http.StatusConflict, "empty_cart"},
		{"zero quantity", http.MethodPost, "/v1/cart/items", "bob", map[string]any{"item_id": item, "quantity": 0}, http.StatusUnprocessableEntity, "invalid_quantity"},
		{"rating bounds", http.MethodPost, "/v1/items/" + item + "/ratings", "bob", map[string]any{"rating": 9}, http.StatusUnprocessableEntity, "rating_out_of_bounds"},
		{"unknown field", http.MethodPost, "/v1/cart/items", "bob", map[string]any{"sku": 1}, http.StatusBadRequest, "bad_request"},
		{"bad status filter", http.MethodGet, "/v1/seller/orders?status=lost", "alice", nil, http.StatusBadRequest, "bad_request"},
		{"no buyer profile", http.MethodGet, "/v1/accounts/me/buyer", "nobody", nil, http.StatusNotFound, "nonexistent_account"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := h.do(t, tc.method, tc.path, tc.account, tc.body)
			assert.Equal(t, tc.status, status, body)
			assert.Equal(t, tc.code, body["code"])
		})
	}
}

func TestInsufficientPaymentIsPaymentRequired(t *testing.T) {
	h := newHarness(t)
	item := h.listItem(t, "alice", ledger.ItemInput{Kind: domain.KindProduct, Title: "rug", Price: 50, Inventory: 1})
	code, _ := h.do(t, http.MethodPost, "/v1/cart/items", "bob", map[string]any{"item_id": item, "quantity": 1})
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(t, http.MethodPost, "/v1/checkout", "bob", map[string]any{"tendered": 49})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "insufficient_payment", body["code"])
}

func TestCheckoutReplaysIdempotencyHeader(t *testing.T) {
	h := newHarness(t)
	item := h.listItem(t, "alice", ledger.ItemInput{Kind: domain.KindService, Title: "lesson", Price: 25, Inventory: 5})
	code, _ := h.do(t, http.MethodPost, "/v1/cart/items", "bob", map[string]any{"item_id": item, "quantity": 1})
	require.Equal(t, http.StatusOK, code)

	code, first := h.do(t, http.MethodPost, "/v1/checkout", "bob", map[string]any{"tendered": 25}, idempotency.Header, "k-1")
	require.Equal(t, http.StatusCreated, code, first)

	code, again := h.do(t, http.MethodPost, "/v1/checkout", "bob", map[string]any{"tendered": 25}, idempotency.Header, "k-1")
	require.Equal(t, http.StatusOK, code, again)
	assert.Equal(t, true, again["replayed"])
	assert.Equal(t, first["cart"].(map[string]any)["id"], again["cart"].(map[string]any)["id"])
	assert.Equal(t, domain.Amount(25), h.vault.Credited("alice"))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Requests.WithLabelValues("checkout", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Requests.WithLabelValues("checkout", "200")))
}

func TestReferralsAndStoreArePublic(t *testing.T) {
	h := newHarness(t)
	h.listItem(t, "alice", ledger.ItemInput{Kind: domain.KindProduct, Title: "book", Price: 10, Inventory: 2, ZenoPercent: 10})
	h.listItem(t, "alice", ledger.ItemInput{Kind: domain.KindService, Title: "tour", Price: 10, Inventory: 2})

	code, refs := h.do(t, http.MethodGet, "/v1/referrals", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, refs["products"], 1)
	assert.Empty(t, refs["services"])

	code, store := h.do(t, http.MethodGet, "/v1/stores/alice", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, store["products"], 1)
	assert.Len(t, store["services"], 1)
}
