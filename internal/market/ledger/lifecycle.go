package ledger

import (
	"context"

	"github.com/nazeru/market-ledger-go/internal/market/bounded"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
)

// order loads an order for a mutation by one of its parties.
func (st *stage) order(id domain.Hash, caller domain.AccountID, asSeller bool) (domain.Order, error) {
	o, ok := st.s.Orders[id]
	if !ok {
		return o, domain.ErrOrderDoesNotExist
	}
	if (asSeller && o.Seller != caller) || (!asSeller && o.Buyer != caller) {
		return o, domain.ErrNotYourOrder
	}
	return o, nil
}

// AdvanceOrder records tracking information and moves a physical order at
// most one step forward: shipped to delivered when delivered is set,
// otherwise awaiting to shipped when shipped is set. Shipping releases the
// order's funds. Repeating a call that already took effect only rewrites the
// tracking information.
func (l *Ledger) AdvanceOrder(ctx context.Context, seller domain.AccountID, id domain.Hash, tracking string, shipped, delivered bool) (domain.Order, error) {
	var out domain.Order
	err := l.apply(ctx, "advance_order", func(st *stage) error {
		if err := domain.CheckLen("tracking", tracking, domain.MaxAddressLen); err != nil {
			return err
		}
		o, err := st.order(id, seller, true)
		if err != nil {
			return err
		}
		if o.Fulfillment != domain.FulfillPhysical {
			return domain.ErrNotAPhysicalProduct
		}
		st.ref = o.ID.String()
		o.Tracking = tracking
		o.UpdatedAt = st.now

		switch {
		case delivered && o.Status == domain.OrderShipped:
			if err := st.moveBucket(&o, domain.OrderDelivered); err != nil {
				return err
			}
			o.TimeDelivered = st.now
			st.countBoth(o, incDelivered)
			st.completePurchase(o)
			st.emit(contracts.EventOrderDelivered, o.ID, seller, map[string]any{"tracking": tracking})
		case shipped && o.Status == domain.OrderAwaiting:
			if err := st.moveBucket(&o, domain.OrderShipped); err != nil {
				return err
			}
			st.release(o)
			st.emit(contracts.EventOrderShipped, o.ID, seller, map[string]any{"tracking": tracking})
		}
		st.s.Orders[o.ID] = o
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

// ReportProblem moves a delivered order into the problem state. It is only
// allowed within ReportWindow of delivery.
func (l *Ledger) ReportProblem(ctx context.Context, buyer domain.AccountID, id domain.Hash, kind domain.Problem, evidenceURL, message string) (domain.Order, error) {
	var out domain.Order
	err := l.apply(ctx, "report_problem", func(st *stage) error {
		if err := domain.CheckLen("evidence_url", evidenceURL, domain.MaxURLLen); err != nil {
			return err
		}
		if err := domain.CheckLen("message", message, domain.MaxTextLen); err != nil {
			return err
		}
		o, err := st.order(id, buyer, false)
		if err != nil {
			return err
		}
		switch kind {
		case domain.ProblemDamaged, domain.ProblemWrongItem, domain.ProblemNotReceived:
		default:
			return domain.ErrNotEligibleToReport
		}
		if o.Status != domain.OrderDelivered || st.now.Sub(o.TimeDelivered) >= ReportWindow {
			return domain.ErrNotEligibleToReport
		}
		st.ref = o.ID.String()
		if err := st.postMessage(&o, buyer, o.Seller, evidenceURL, message); err != nil {
			return err
		}
		if err := st.moveBucket(&o, domain.OrderProblem); err != nil {
			return err
		}
		o.Problem = kind
		st.countBoth(o, problemReported(kind))
		st.s.Orders[o.ID] = o
		st.emit(contracts.EventOrderProblem, o.ID, buyer, map[string]any{"problem": kind.String()})
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

// MessageOrder adds a message to an order's discussion. Either party may
// post; the message goes to the other one.
func (l *Ledger) MessageOrder(ctx context.Context, caller domain.AccountID, id domain.Hash, mediaURL, text string) (domain.Message, error) {
	var out domain.Message
	err := l.apply(ctx, "message_order", func(st *stage) error {
		if err := domain.CheckLen("media_url", mediaURL, domain.MaxURLLen); err != nil {
			return err
		}
		if err := domain.CheckLen("message", text, domain.MaxTextLen); err != nil {
			return err
		}
		o, ok := st.s.Orders[id]
		if !ok {
			return domain.ErrOrderDoesNotExist
		}
		var to domain.AccountID
		switch caller {
		case o.Buyer:
			to = o.Seller
		case o.Seller:
			to = o.Buyer
		default:
			return domain.ErrNotYourOrder
		}
		st.ref = o.ID.String()
		if err := st.postMessage(&o, caller, to, mediaURL, text); err != nil {
			return err
		}
		st.s.Orders[o.ID] = o
		out = st.s.Messages[o.Discussion[len(o.Discussion)-1]]
		st.emit(contracts.EventOrderMessage, o.ID, caller, map[string]any{"to": string(to)})
		return nil
	})
	return out, err
}

func (st *stage) postMessage(o *domain.Order, from, to domain.AccountID, mediaURL, text string) error {
	m := domain.Message{
		ID:        domain.DeriveID(from, st.now, o.ID, text),
		OrderID:   o.ID,
		From:      from,
		To:        to,
		Text:      text,
		MediaURL:  mediaURL,
		CreatedAt: st.now,
	}
	if _, ok := st.s.Messages[m.ID]; ok {
		return domain.ErrDuplicate
	}
	ids, err := bounded.Push(o.Discussion, bounded.Bound{Cap: domain.MaxDiscussion, Policy: bounded.RejectNew}, m.ID)
	if err != nil {
		return full("discussion", err)
	}
	o.Discussion = ids
	o.UpdatedAt = st.now
	st.s.Messages[m.ID] = m
	return nil
}

// resolve closes a problem order with r.
func (st *stage) resolve(seller domain.AccountID, id domain.Hash, r domain.Resolution) (domain.Order, error) {
	o, err := st.order(id, seller, true)
	if err != nil {
		return o, err
	}
	if o.Status != domain.OrderProblem || o.Resolution != domain.ResolutionNone {
		return o, domain.ErrCannotResolve
	}
	if err := st.moveBucket(&o, domain.OrderResolved); err != nil {
		return o, err
	}
	o.Resolution = r
	st.countBoth(o, incResolved)
	st.ref = o.ID.String()
	st.emit(contracts.EventOrderResolved, o.ID, seller, map[string]any{"resolution": r.String()})
	return o, nil
}

// Refund resolves a problem order by paying tendered to the buyer. The
// seller must pay back at least what they received for the order.
func (l *Ledger) Refund(ctx context.Context, seller domain.AccountID, id domain.Hash, tendered domain.Amount) (domain.Order, error) {
	var out domain.Order
	err := l.apply(ctx, "refund", func(st *stage) error {
		o, err := st.resolve(seller, id, domain.ResolutionRefunded)
		if err != nil {
			return err
		}
		if tendered < o.SellerPayout() {
			return domain.ErrInsufficientPayment
		}
		st.deposit(seller, tendered)
		st.pay(payout.Transfer{To: o.Buyer, Amount: tendered, Reason: payout.ReasonRefund, OrderID: o.ID})
		st.s.Orders[o.ID] = o
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

// Replace resolves a problem order by shipping a replacement.
func (l *Ledger) Replace(ctx context.Context, seller domain.AccountID, id domain.Hash, tracking string) (domain.Order, error) {
	var out domain.Order
	err := l.apply(ctx, "replace", func(st *stage) error {
		if err := domain.CheckLen("tracking", tracking, domain.MaxAddressLen); err != nil {
			return err
		}
		o, err := st.resolve(seller, id, domain.ResolutionReplaced)
		if err != nil {
			return err
		}
		o.Tracking = tracking
		st.s.Orders[o.ID] = o
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

// DenyResolution closes a problem order without compensation.
func (l *Ledger) DenyResolution(ctx context.Context, seller domain.AccountID, id domain.Hash) (domain.Order, error) {
	var out domain.Order
	err := l.apply(ctx, "deny_resolution", func(st *stage) error {
		o, err := st.resolve(seller, id, domain.ResolutionDenied)
		if err != nil {
			return err
		}
		st.s.Orders[o.ID] = o
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

// Refuse cancels an order that has not shipped and returns its line total to
// the buyer.
func (l *Ledger) Refuse(ctx context.Context, seller domain.AccountID, id domain.Hash) (domain.Order, error) {
	var out domain.Order
	err := l.apply(ctx, "refuse", func(st *stage) error {
		o, err := st.order(id, seller, true)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderAwaiting {
			return domain.ErrCannotRefuse
		}
		if err := st.moveBucket(&o, domain.OrderRefused); err != nil {
			return err
		}
		st.pay(payout.Transfer{To: o.Buyer, Amount: o.LineTotal, Reason: payout.ReasonRefund, OrderID: o.ID})
		st.countBoth(o, incRefused)
		st.s.Orders[o.ID] = o
		st.ref = o.ID.String()
		st.emit(contracts.EventOrderRefused, o.ID, seller, map[string]any{"amount": uint64(o.LineTotal)})
		out = cloneOrder(o)
		return nil
	})
	return out, err
}
