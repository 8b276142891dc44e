package domain

import "errors"

// authorization
var (
	ErrNotYourOrder   = errors.New("not your order")
	ErrNotYourProduct = errors.New("not your product")
)

// lifecycle guards
var (
	ErrCannotRefuse        = errors.New("order can no longer be refused")
	ErrCannotResolve       = errors.New("order is not awaiting a resolution")
	ErrNotAPhysicalProduct = errors.New("order is not for a physical product")
	ErrNotEligibleToReport = errors.New("not eligible to report a problem")
	ErrNotEligibleToReview = errors.New("not eligible to review")
)

// input validation
var (
	ErrRatingOutOfBounds = errors.New("rating must be between 1 and 5")
	ErrDataTooLarge      = errors.New("data too large")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInvalidKind       = errors.New("kind must be product or service")
)

var ErrStorageFull = errors.New("storage full")

// financial
var (
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrPayoutFailed        = errors.New("payout failed")
)

// lookup
var (
	ErrItemDoesNotExist   = errors.New("item does not exist")
	ErrOrderDoesNotExist  = errors.New("order does not exist")
	ErrDuplicate          = errors.New("duplicate")
	ErrNonexistentAccount = errors.New("nonexistent account")
	ErrEmptyCart          = errors.New("nothing in the cart can be checked out")
)

// ErrPersistFailed is returned when the ledger snapshot could not be made
// durable. The operation had no effect.
var ErrPersistFailed = errors.New("ledger persist failed")

// Code returns a stable machine readable name for a ledger error, or
// "internal" for anything else.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

var codes = []struct {
	err  error
	code string
}{
	{ErrNotYourOrder, "not_your_order"},
	{ErrNotYourProduct, "not_your_product"},
	{ErrCannotRefuse, "cannot_refuse"},
	{ErrCannotResolve, "cannot_resolve"},
	{ErrNotAPhysicalProduct, "not_a_physical_product"},
	{ErrNotEligibleToReport, "not_eligible_to_report"},
	{ErrNotEligibleToReview, "not_eligible_to_review"},
	{ErrRatingOutOfBounds, "rating_out_of_bounds"},
	{ErrDataTooLarge, "data_too_large"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidKind, "invalid_kind"},
	{ErrStorageFull, "storage_full"},
	{ErrInsufficientPayment, "insufficient_payment"},
	{ErrPayoutFailed, "payout_failed"},
	{ErrItemDoesNotExist, "item_does_not_exist"},
	{ErrOrderDoesNotExist, "order_does_not_exist"},
	{ErrDuplicate, "duplicate"},
	{ErrNonexistentAccount, "nonexistent_account"},
	{ErrEmptyCart, "empty_cart"},
	{ErrPersistFailed, "persist_failed"},
}
