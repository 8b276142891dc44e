// Package httpapi serves the ledger over HTTP. The caller is identified by
// the X-Account-ID header, which an upstream gateway is trusted to set.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
	"github.com/nazeru/market-ledger-go/pkg/idempotency"
	"github.com/nazeru/market-ledger-go/pkg/logging"
	"github.com/nazeru/market-ledger-go/pkg/metrics"
)

const AccountHeader = "X-Account-ID"

const maxBody = 64 << 10

type Server struct {
	Ledger  *ledger.Ledger
	Metrics *metrics.ServerMetrics
	Service string
	// Timeout bounds each request. Zero means 10s.
	Timeout time.Duration
}

type handlerFunc func(r *http.Request, caller domain.AccountID) (int, any, error)

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "seq": s.Ledger.Seq()})
	})

	s.handle(mux, "POST /v1/items", "list_item", s.listItem)
	s.handle(mux, "GET /v1/items/{id}", "view_item", s.viewItem)
	s.handle(mux, "PUT /v1/items/{id}", "update_item", s.updateItem)
	s.handle(mux, "DELETE /v1/items/{id}", "delete_item", s.deleteItem)
	s.handle(mux, "POST /v1/items/{id}/ratings", "rate_item", s.rateItem)

	s.handle(mux, "GET /v1/cart", "view_cart", s.viewCart)
	s.handle(mux, "POST /v1/cart/items", "add_to_cart", s.addToCart)
	s.handle(mux, "PUT /v1/cart/items/{id}", "set_cart_quantity", s.setCartQuantity)
	s.handle(mux, "DELETE /v1/cart/items/{id}", "remove_from_cart", s.removeFromCart)
	s.handle(mux, "POST /v1/checkout", "checkout", s.checkout)

	s.handle(mux, "GET /v1/orders", "view_orders", s.viewOrders)
	s.handle(mux, "GET /v1/orders/{id}", "view_order", s.viewOrder)
	s.handle(mux, "POST /v1/orders/{id}/advance", "advance_order", s.advanceOrder)
	s.handle(mux, "POST /v1/orders/{id}/problem", "report_problem", s.reportProblem)
	s.handle(mux, "POST /v1/orders/{id}/messages", "message_order", s.messageOrder)
	s.handle(mux, "POST /v1/orders/{id}/refund", "refund", s.refund)
	s.handle(mux, "POST /v1/orders/{id}/replace", "replace", s.replace)
	s.handle(mux, "POST /v1/orders/{id}/deny", "deny_resolution", s.denyResolution)
	s.handle(mux, "POST /v1/orders/{id}/refuse", "refuse", s.refuse)
	s.handle(mux, "GET /v1/seller/orders", "view_seller_orders", s.viewSellerOrders)

	s.handle(mux, "GET /v1/accounts/me/buyer", "view_buyer_account", s.viewBuyerAccount)
	s.handle(mux, "GET /v1/accounts/me/seller", "view_seller_account", s.viewSellerAccount)
	s.handle(mux, "POST /v1/accounts/{account}/ratings", "rate_counterparty", s.rateCounterparty)
	s.public(mux, "GET /v1/stores/{account}", "view_store", s.viewStore)
	s.public(mux, "GET /v1/referrals", "referral_opportunities", s.referrals)
	s.public(mux, "GET /v1/market/stats", "market_statistics", s.stats)
	return mux
}

// handle registers a route that needs a caller.
func (s *Server) handle(mux *http.ServeMux, pattern, name string, fn handlerFunc) {
	s.route(mux, pattern, name, func(r *http.Request, caller domain.AccountID) (int, any, error) {
		if caller == "" {
			return 0, nil, errMissingAccount
		}
		return fn(r, caller)
	})
}

func (s *Server) public(mux *http.ServeMux, pattern, name string, fn handlerFunc) {
	s.route(mux, pattern, name, fn)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, fn handlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		r = r.WithContext(ctx)

		caller := domain.AccountID(strings.TrimSpace(r.Header.Get(AccountHeader)))
		code, body, err := fn(r, caller)
		if err != nil {
			var eb map[string]any
			code, eb = errorResponse(err)
			body = eb
			if code >= http.StatusInternalServerError {
				logging.Log(logging.Fields{Service: s.Service, Account: string(caller), Step: name, Status: "error", Message: err.Error()})
			}
		}
		writeJSON(w, code, body)
		s.Metrics.Observe(name, code, start)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &badRequest{msg: "invalid json: " + err.Error()}
	}
	return nil
}

func pathHash(r *http.Request, name string) (domain.Hash, error) {
	h, err := domain.ParseHash(r.PathValue(name))
	if err != nil {
		return h, &badRequest{msg: fmt.Sprintf("invalid %s: %v", name, err)}
	}
	return h, nil
}

func (s *Server) listItem(r *http.Request, caller domain.AccountID) (int, any, error) {
	var in ledger.ItemInput
	if err := decode(r, &in); err != nil {
		return 0, nil, err
	}
	it, err := s.Ledger.ListItem(r.Context(), caller, in)
	return http.StatusCreated, it, err
}

func (s *Server) viewItem(r *http.Request, _ domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	it, err := s.Ledger.ViewItem(id)
	return http.StatusOK, it, err
}

func (s *Server) updateItem(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var in ledger.ItemInput
	if err := decode(r, &in); err != nil {
		return 0, nil, err
	}
	it, err := s.Ledger.UpdateItem(r.Context(), caller, id, in)
	return http.StatusOK, it, err
}

func (s *Server) deleteItem(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	if err := s.Ledger.DeleteItem(r.Context(), caller, id); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]any{"deleted": id}, nil
}

type ratingRequest struct {
	Rating uint8  `json:"rating"`
	Text   string `json:"text"`
}

func (s *Server) rateItem(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req ratingRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	rev, err := s.Ledger.RateItem(r.Context(), caller, id, req.Rating, req.Text)
	return http.StatusCreated, rev, err
}

func (s *Server) rateCounterparty(r *http.Request, caller domain.AccountID) (int, any, error) {
	var req ratingRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	rev, err := s.Ledger.RateCounterparty(r.Context(), caller, domain.AccountID(r.PathValue("account")), req.Rating, req.Text)
	return http.StatusCreated, rev, err
}

func (s *Server) viewCart(_ *http.Request, caller domain.AccountID) (int, any, error) {
	return http.StatusOK, s.Ledger.ViewCart(caller), nil
}

type cartRequest struct {
	ItemID   domain.Hash `json:"item_id"`
	Quantity uint64      `json:"quantity"`
}

func (s *Server) addToCart(r *http.Request, caller domain.AccountID) (int, any, error) {
	var req cartRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	v, err := s.Ledger.AddToCart(r.Context(), caller, req.ItemID, req.Quantity)
	return http.StatusOK, v, err
}

func (s *Server) setCartQuantity(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req cartRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	v, err := s.Ledger.SetCartQuantity(r.Context(), caller, id, req.Quantity)
	return http.StatusOK, v, err
}

func (s *Server) removeFromCart(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	v, err := s.Ledger.RemoveFromCart(r.Context(), caller, id)
	return http.StatusOK, v, err
}

func (s *Server) checkout(r *http.Request, caller domain.AccountID) (int, any, error) {
	var in ledger.CheckoutInput
	if err := decode(r, &in); err != nil {
		return 0, nil, err
	}
	in.IdempotencyKey = idempotency.Resolve(r, in.IdempotencyKey)
	rc, err := s.Ledger.Checkout(r.Context(), caller, in)
	if err == nil && !rc.Replayed {
		return http.StatusCreated, rc, nil
	}
	return http.StatusOK, rc, err
}

func (s *Server) viewOrders(_ *http.Request, caller domain.AccountID) (int, any, error) {
	return http.StatusOK, s.Ledger.ViewOrders(caller), nil
}

func (s *Server) viewOrder(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	o, msgs, err := s.Ledger.ViewOrder(caller, id)
	if err != nil {
		return 0, nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return http.StatusOK, map[string]any{"order": o, "messages": msgs}, nil
}

func (s *Server) viewSellerOrders(r *http.Request, caller domain.AccountID) (int, any, error) {
	name := r.URL.Query().Get("status")
	if name == "" {
		name = domain.OrderAwaiting.String()
	}
	st, err := domain.ParseOrderStatus(name)
	if err != nil {
		return 0, nil, &badRequest{msg: err.Error()}
	}
	return http.StatusOK, s.Ledger.ViewSellerOrdersByBucket(caller, st), nil
}

type advanceRequest struct {
	Tracking  string `json:"tracking"`
	Shipped   bool   `json:"shipped"`
	Delivered bool   `json:"delivered"`
}

func (s *Server) advanceOrder(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	o, err := s.Ledger.AdvanceOrder(r.Context(), caller, id, req.Tracking, req.Shipped, req.Delivered)
	return http.StatusOK, o, err
}

type problemRequest struct {
	Kind        domain.Problem `json:"kind"`
	EvidenceURL string         `json:"evidence_url"`
	Message     string         `json:"message"`
}

func (s *Server) reportProblem(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req problemRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	o, err := s.Ledger.ReportProblem(r.Context(), caller, id, req.Kind, req.EvidenceURL, req.Message)
	return http.StatusOK, o, err
}

type messageRequest struct {
	MediaURL string `json:"media_url"`
	Text     string `json:"text"`
}

func (s *Server) messageOrder(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req messageRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	m, err := s.Ledger.MessageOrder(r.Context(), caller, id, req.MediaURL, req.Text)
	return http.StatusCreated, m, err
}

func (s *Server) refund(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req struct {
		Tendered domain.Amount `json:"tendered"`
	}
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	o, err := s.Ledger.Refund(r.Context(), caller, id, req.Tendered)
	return http.StatusOK, o, err
}

func (s *Server) replace(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	var req struct {
		Tracking string `json:"tracking"`
	}
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	o, err := s.Ledger.Replace(r.Context(), caller, id, req.Tracking)
	return http.StatusOK, o, err
}

func (s *Server) denyResolution(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	o, err := s.Ledger.DenyResolution(r.Context(), caller, id)
	return http.StatusOK, o, err
}

func (s *Server) refuse(r *http.Request, caller domain.AccountID) (int, any, error) {
	id, err := pathHash(r, "id")
	if err != nil {
		return 0, nil, err
	}
	o, err := s.Ledger.Refuse(r.Context(), caller, id)
	return http.StatusOK, o, err
}

func (s *Server) viewBuyerAccount(_ *http.Request, caller domain.AccountID) (int, any, error) {
	v, err := s.Ledger.ViewBuyerAccount(caller)
	return http.StatusOK, v, err
}

func (s *Server) viewSellerAccount(_ *http.Request, caller domain.AccountID) (int, any, error) {
	v, err := s.Ledger.ViewSellerAccount(caller)
	return http.StatusOK, v, err
}

func (s *Server) viewStore(r *http.Request, _ domain.AccountID) (int, any, error) {
	v, err := s.Ledger.ViewStore(domain.AccountID(r.PathValue("account")))
	return http.StatusOK, v, err
}

func (s *Server) referrals(_ *http.Request, _ domain.AccountID) (int, any, error) {
	products, services := s.Ledger.ReferralOpportunities()
	return http.StatusOK, map[string]any{"products": products, "services": services}, nil
}

func (s *Server) stats(_ *http.Request, _ domain.AccountID) (int, any, error) {
	return http.StatusOK, s.Ledger.MarketStatistics(), nil
}
