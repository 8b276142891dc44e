package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
)

// badRequest marks malformed input that never reached the ledger.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

var errMissingAccount = errors.New("missing " + AccountHeader + " header")

var statusByCode = map[string]int{
	"not_your_order":         http.StatusForbidden,
	"not_your_product":       http.StatusForbidden,
	"cannot_refuse":          http.StatusConflict,
	"cannot_resolve":         http.StatusConflict,
	"not_a_physical_product": http.StatusConflict,
	"not_eligible_to_report": http.StatusConflict,
	"not_eligible_to_review": http.StatusConflict,
	"duplicate":              http.StatusConflict,
	"empty_cart":             http.StatusConflict,
	"rating_out_of_bounds":   http.StatusUnprocessableEntity,
	"data_too_large":         http.StatusUnprocessableEntity,
	"invalid_quantity":       http.StatusUnprocessableEntity,
	"invalid_kind":           http.StatusUnprocessableEntity,
	"storage_full":           http.StatusInsufficientStorage,
	"insufficient_payment":   http.StatusPaymentRequired,
	"payout_failed":          http.StatusBadGateway,
	"persist_failed":         http.StatusServiceUnavailable,
	"item_does_not_exist":    http.StatusNotFound,
	"order_does_not_exist":   http.StatusNotFound,
	"nonexistent_account":    http.StatusNotFound,
}

// errorResponse maps err to a status and the {"error","code"} body.
func errorResponse(err error) (int, map[string]any) {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, map[string]any{"error": br.msg, "code": "bad_request"}
	case errors.Is(err, errMissingAccount):
		return http.StatusUnauthorized, map[string]any{"error": err.Error(), "code": "unauthenticated"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, map[string]any{"error": err.Error(), "code": "timeout"}
	case errors.Is(err, context.Canceled):
		return 499, map[string]any{"error": err.Error(), "code": "canceled"}
	}
	code := domain.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, map[string]any{"error": err.Error(), "code": code}
}
