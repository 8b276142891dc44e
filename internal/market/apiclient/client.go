// Package apiclient calls the market-service HTTP API as one account.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/httpapi"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
	"github.com/nazeru/market-ledger-go/pkg/idempotency"
)

// APIError is a non-2xx answer. Code is the ledger's error code when the
// server sent one.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

type Client struct {
	BaseURL string
	Account domain.AccountID
	HTTP    *http.Client
}

func New(baseURL string, account domain.AccountID, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Account: account, HTTP: hc}
}

// As returns a client for another account sharing the connection pool.
func (c *Client) As(account domain.AccountID) *Client {
	cp := *c
	cp.Account = account
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, hdr map[string]string) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Account != "" {
		req.Header.Set(httpapi.AccountHeader, string(c.Account))
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) ListItem(ctx context.Context, in ledger.ItemInput) (domain.Item, error) {
	var it domain.Item
	err := c.do(ctx, http.MethodPost, "/v1/items", in, &it, nil)
	return it, err
}

func (c *Client) AddToCart(ctx context.Context, item domain.Hash, qty uint64) (ledger.CartView, error) {
	var v ledger.CartView
	err := c.do(ctx, http.MethodPost, "/v1/cart/items", map[string]any{"item_id": item, "quantity": qty}, &v, nil)
	return v, err
}

func (c *Client) ViewCart(ctx context.Context) (ledger.CartView, error) {
	var v ledger.CartView
	err := c.do(ctx, http.MethodGet, "/v1/cart", nil, &v, nil)
	return v, err
}

// Checkout pays for the cart. An empty key gets a fresh one, so a caller
// that wants to retry safely must pass its own.
func (c *Client) Checkout(ctx context.Context, in ledger.CheckoutInput, key string) (ledger.Receipt, error) {
	if key == "" {
		key = uuid.NewString()
	}
	var rc ledger.Receipt
	err := c.do(ctx, http.MethodPost, "/v1/checkout", in, &rc, map[string]string{idempotency.Header: key})
	return rc, err
}

func (c *Client) AdvanceOrder(ctx context.Context, id domain.Hash, tracking string, shipped, delivered bool) (domain.Order, error) {
	var o domain.Order
	body := map[string]any{"tracking": tracking, "shipped": shipped, "delivered": delivered}
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+id.String()+"/advance", body, &o, nil)
	return o, err
}

func (c *Client) ReportProblem(ctx context.Context, id domain.Hash, kind domain.Problem, message string) (domain.Order, error) {
	var o domain.Order
	body := map[string]any{"kind": kind, "message": message}
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+id.String()+"/problem", body, &o, nil)
	return o, err
}

func (c *Client) Refund(ctx context.Context, id domain.Hash, tendered domain.Amount) (domain.Order, error) {
	var o domain.Order
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+id.String()+"/refund", map[string]any{"tendered": tendered}, &o, nil)
	return o, err
}

func (c *Client) Stats(ctx context.Context) (ledger.MarketStats, error) {
	var st ledger.MarketStats
	err := c.do(ctx, http.MethodGet, "/v1/market/stats", nil, &st, nil)
	return st, err
}

type Referrals struct {
	Products []domain.Item `json:"products"`
	Services []domain.Item `json:"services"`
}

func (c *Client) Referrals(ctx context.Context) (Referrals, error) {
	var r Referrals
	err := c.do(ctx, http.MethodGet, "/v1/referrals", nil, &r, nil)
	return r, err
}
