package domain

import "github.com/nazeru/market-ledger-go/internal/market/bounded"

// MaxReferrers is the number of early buyers that share an item's referral
// payout.
const MaxReferrers = 20

const (
	MaxCartLines  = 40
	MaxDiscussion = 10
	MaxLinks      = 3
)

// Field length caps, in bytes.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 600
	MaxLabelLen       = 100
	MaxURLLen         = 300
	MaxAddressLen     = 300
	MaxTextLen        = 600
)

// Index bounds. Awaiting and problem orders still owe the seller a decision,
// so those buckets reject instead of dropping entries.
var (
	BuyerOrdersBound     = bounded.Bound{Cap: 250, Policy: bounded.EvictOldest}
	BuyerCartsBound      = bounded.Bound{Cap: 100, Policy: bounded.EvictOldest}
	OwnedDigitalBound    = bounded.Bound{Cap: 100, Policy: bounded.EvictOldest}
	CompletedItemsBound  = bounded.Bound{Cap: 250, Policy: bounded.EvictOldest}
	CounterpartiesBound  = bounded.Bound{Cap: 250, Policy: bounded.EvictOldest}
	RatedBound           = bounded.Bound{Cap: 250, Policy: bounded.EvictOldest}
	SellerItemsBound     = bounded.Bound{Cap: 500, Policy: bounded.RejectNew}
	IdempotencyKeysBound = bounded.Bound{Cap: 1000, Policy: bounded.EvictOldest}
)

// BucketBound returns the bound of a seller's order bucket for status s.
func BucketBound(s OrderStatus) bounded.Bound {
	switch s {
	case OrderAwaiting, OrderProblem:
		return bounded.Bound{Cap: 250, Policy: bounded.RejectNew}
	default:
		return bounded.Bound{Cap: 250, Policy: bounded.EvictOldest}
	}
}

// CheckLen returns ErrDataTooLarge when s is longer than max bytes.
func CheckLen(field, s string, max int) error {
	if len(s) > max {
		return &FieldError{Field: field, Max: max, Err: ErrDataTooLarge}
	}
	return nil
}

// FieldError names the input field that failed validation.
type FieldError struct {
	Field string
	Max   int
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error { return e.Err }
