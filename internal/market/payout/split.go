// Package payout computes how released order funds are divided and moves
// them through a vault.
package payout

import (
	"github.com/nazeru/market-ledger-go/internal/market/domain"
)

type Reason string

const (
	ReasonSeller    Reason = "seller"
	ReasonReferral  Reason = "referral"
	ReasonRemainder Reason = "remainder"
	ReasonRefund    Reason = "refund"
)

// Transfer is one payment out of the vault.
type Transfer struct {
	To      domain.AccountID `json:"to"`
	Amount  domain.Amount    `json:"amount"`
	Reason  Reason           `json:"reason"`
	OrderID domain.Hash      `json:"order_id"`
}

// Split divides an order's line total on release. The seller gets the line
// total minus the referral share; the k-th referrer (1-indexed) gets
// floor(zeno / 2^k); whatever the halving series leaves over goes to the
// seller. Zero amounts are omitted.
func Split(o domain.Order) []Transfer {
	out := make([]Transfer, 0, len(o.Referrers)+2)
	add := func(to domain.AccountID, amt domain.Amount, r Reason) {
		if amt > 0 {
			out = append(out, Transfer{To: to, Amount: amt, Reason: r, OrderID: o.ID})
		}
	}
	add(o.Seller, o.SellerPayout(), ReasonSeller)

	remaining := o.ZenoTotal
	for k, acct := range o.Referrers {
		if k+1 >= 64 {
			break
		}
		share := o.ZenoTotal >> (k + 1)
		if share == 0 {
			break
		}
		add(acct, share, ReasonReferral)
		remaining -= share
	}
	add(o.Seller, remaining, ReasonRemainder)
	return out
}

// Sum totals the transfers, saturating.
func Sum(ts []Transfer) domain.Amount {
	var s domain.Amount
	for _, t := range ts {
		s = s.AddSat(t.Amount)
	}
	return s
}

// Batch is everything one ledger operation pays in and out.
type Batch struct {
	From      domain.AccountID
	Deposit   domain.Amount
	Transfers []Transfer
}

func (b *Batch) Add(ts ...Transfer) { b.Transfers = append(b.Transfers, ts...) }

// Empty reports whether committing the batch would move no funds.
func (b Batch) Empty() bool { return b.Deposit == 0 && len(b.Transfers) == 0 }
