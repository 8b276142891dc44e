package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

// HTTPVault talks to a remote vault-service over its /2pc endpoints.
type HTTPVault struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPVault(baseURL string, client *http.Client) *HTTPVault {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPVault{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

// Prepare treats 409 Conflict as a no vote carrying the server's reason.
func (h *HTTPVault) Prepare(ctx context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	var resp protocol.PrepareResponse
	code, body, err := h.post(ctx, "/2pc/prepare", req)
	if err != nil {
		return resp, err
	}
	switch {
	case code == http.StatusConflict:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return protocol.PrepareResponse{Reason: e.Error}, nil
	case code < 200 || code >= 300:
		return resp, fmt.Errorf("vault prepare: status %d", code)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("vault prepare: %w", err)
	}
	return resp, nil
}

func (h *HTTPVault) Commit(ctx context.Context, req protocol.CommitRequest) error {
	return h.expectOK(ctx, "/2pc/commit", req)
}

func (h *HTTPVault) Abort(ctx context.Context, req protocol.AbortRequest) error {
	return h.expectOK(ctx, "/2pc/abort", req)
}

func (h *HTTPVault) expectOK(ctx context.Context, path string, body any) error {
	code, _, err := h.post(ctx, path, body)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("vault %s: status %d", path, code)
	}
	return nil
}

func (h *HTTPVault) post(ctx context.Context, path string, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}
