package ledger

import (
	"context"
	"slices"

	"github.com/nazeru/market-ledger-go/internal/market/bounded"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
)

type CheckoutInput struct {
	DeliverToAddress string           `json:"deliver_to_address,omitempty"`
	DeliverToAccount domain.AccountID `json:"deliver_to_account,omitempty"`
	// Tendered is paid into the vault with the checkout.
	Tendered domain.Amount `json:"tendered"`
	// IdempotencyKey makes a retried checkout return the first result.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type Receipt struct {
	Cart     domain.PaidCart `json:"cart"`
	Orders   []domain.Order  `json:"orders"`
	Replayed bool            `json:"replayed,omitempty"`
}

// Checkout buys every cart line that is in stock. Lines that are not are
// dropped with the rest of the cart. Either every order, inventory change
// and payout of the checkout commits or none does.
func (l *Ledger) Checkout(ctx context.Context, buyer domain.AccountID, in CheckoutInput) (Receipt, error) {
	var out Receipt
	err := l.apply(ctx, "checkout", func(st *stage) error {
		if err := domain.CheckLen("deliver_to_address", in.DeliverToAddress, domain.MaxAddressLen); err != nil {
			return err
		}
		if err := domain.CheckLen("idempotency_key", in.IdempotencyKey, domain.MaxLabelLen); err != nil {
			return err
		}
		key := idempotencyKey(buyer, in.IdempotencyKey)
		if in.IdempotencyKey != "" {
			if id, ok := st.s.IdempotencyKeys[key]; ok {
				if pc, ok := st.s.PaidCarts[id]; ok {
					st.skip = true
					out = receipt(st.s, pc)
					out.Replayed = true
					return nil
				}
			}
		}

		var lines []domain.CartLine
		var total domain.Amount
		for _, line := range st.s.Carts[buyer].Lines {
			it, ok := st.s.Items[line.ItemID]
			if !ok || line.Quantity == 0 || line.Quantity > it.Inventory {
				continue
			}
			lines = append(lines, line)
			total = total.AddSat(it.Price.MulSat(line.Quantity))
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}
		if in.Tendered < total {
			return domain.ErrInsufficientPayment
		}

		cartID := domain.DeriveID(buyer, st.now)
		if _, ok := st.s.PaidCarts[cartID]; ok {
			return domain.ErrDuplicate
		}
		pc := domain.PaidCart{
			ID:               cartID,
			Buyer:            buyer,
			CreatedAt:        st.now,
			Total:            total,
			Tendered:         in.Tendered,
			DeliverToAddress: in.DeliverToAddress,
			DeliverToAccount: in.DeliverToAccount,
			IdempotencyKey:   in.IdempotencyKey,
		}
		st.deposit(buyer, in.Tendered)

		for _, line := range lines {
			o, err := st.placeOrder(pc, line)
			if err != nil {
				return err
			}
			pc.Orders = append(pc.Orders, o.ID)
			pc.UnitCount += o.Quantity
		}
		st.s.PaidCarts[cartID] = pc

		bi := st.buyerIndex(buyer)
		bi.Carts, _ = bounded.Push(bi.Carts, domain.BuyerCartsBound, cartID)
		st.s.BuyerIndex[buyer] = bi
		st.countBuyer(buyer, incCarts)
		st.marketCheckout(len(pc.Orders))
		delete(st.s.Carts, buyer)

		if in.IdempotencyKey != "" {
			keys := st.s.IdempotencyOrder
			if len(keys) >= domain.IdempotencyKeysBound.Cap {
				delete(st.s.IdempotencyKeys, keys[0])
			}
			st.s.IdempotencyOrder, _ = bounded.Push(keys, domain.IdempotencyKeysBound, key)
			st.s.IdempotencyKeys[key] = cartID
		}

		st.ref = cartID.String()
		st.emit(contracts.EventCartCheckedOut, domain.Hash{}, buyer, map[string]any{
			"cart_id":  cartID.String(),
			"total":    uint64(total),
			"tendered": uint64(in.Tendered),
			"orders":   len(pc.Orders),
		})
		out = receipt(st.s, pc)
		return nil
	})
	return out, err
}

// placeOrder creates the order for one cart line and applies everything that
// goes with it.
func (st *stage) placeOrder(pc domain.PaidCart, line domain.CartLine) (domain.Order, error) {
	it := st.s.Items[line.ItemID]
	buyer := pc.Buyer

	it.Inventory -= line.Quantity
	referrers := slices.DeleteFunc(slices.Clone(it.Referrers), func(a domain.AccountID) bool { return a == buyer })
	if len(it.Referrers) < domain.MaxReferrers && !slices.Contains(it.Referrers, buyer) {
		it.Referrers, _ = bounded.Push(it.Referrers, bounded.Bound{Cap: domain.MaxReferrers, Policy: bounded.RejectNew}, buyer)
	}
	it.UpdatedAt = st.now
	st.s.Items[it.ID] = it

	lineTotal := it.Price.MulSat(line.Quantity)
	o := domain.Order{
		ID:               domain.DeriveID(buyer, st.now, it.ID),
		CartID:           pc.ID,
		CreatedAt:        st.now,
		Buyer:            buyer,
		Seller:           it.Seller,
		ItemID:           it.ID,
		ItemTitle:        it.Title,
		Fulfillment:      domain.FulfillPhysical,
		Quantity:         line.Quantity,
		UnitPrice:        it.Price,
		LineTotal:        lineTotal,
		DeliverToAddress: pc.DeliverToAddress,
		DeliverToAccount: pc.DeliverToAccount,
		ZenoTotal:        zenoShare(lineTotal, it.ZenoPercent),
		Referrers:        referrers,
		Status:           domain.OrderAwaiting,
		UpdatedAt:        st.now,
	}
	if _, ok := st.s.Orders[o.ID]; ok {
		return o, domain.ErrDuplicate
	}
	if it.InstantFulfillment() {
		o.Fulfillment = domain.FulfillInstant
		o.Status = domain.OrderDelivered
		o.TimeDelivered = st.now
	}

	si := st.sellerIndex(o.Seller)
	bucket := si.Buckets.Bucket(o.Status)
	ids, err := bounded.Push(*bucket, domain.BucketBound(o.Status), o.ID)
	if err != nil {
		return o, full("seller "+o.Status.String()+" bucket", err)
	}
	*bucket = ids
	st.s.SellerIndex[o.Seller] = si

	bi := st.buyerIndex(buyer)
	bi.Orders, _ = bounded.Push(bi.Orders, domain.BuyerOrdersBound, o.ID)
	if it.Kind == domain.KindProduct && it.Digital {
		bi.OwnedDigital, _ = bounded.PushUnique(bi.OwnedDigital, domain.OwnedDigitalBound, it.ID)
	}
	st.s.BuyerIndex[buyer] = bi

	st.countBoth(o, incOrders)
	st.emit(contracts.EventOrderPlaced, o.ID, buyer, map[string]any{
		"item_id":    it.ID.String(),
		"seller":     string(o.Seller),
		"quantity":   o.Quantity,
		"line_total": uint64(o.LineTotal),
		"status":     o.Status.String(),
	})

	if o.Fulfillment == domain.FulfillInstant {
		st.countBoth(o, incDelivered)
		st.completePurchase(o)
		st.release(o)
	}
	st.s.Orders[o.ID] = o
	st.s.OrderLog = append(slices.Clip(st.s.OrderLog), o.ID)
	return o, nil
}

// release stages the payout of an order's line total.
func (st *stage) release(o domain.Order) {
	ts := payout.Split(o)
	st.pay(ts...)
	st.emit(contracts.EventPayoutReleased, o.ID, o.Seller, map[string]any{
		"amount":    uint64(payout.Sum(ts)),
		"transfers": len(ts),
	})
}

// zenoShare is floor(total * pct / 100) without overflowing.
func zenoShare(total domain.Amount, pct uint64) domain.Amount {
	if pct > 100 {
		pct = 100
	}
	t := uint64(total)
	return domain.Amount(t/100*pct + t%100*pct/100)
}

func idempotencyKey(buyer domain.AccountID, key string) string {
	return string(buyer) + "\x00" + key
}

func receipt(s *domain.Snapshot, pc domain.PaidCart) Receipt {
	r := Receipt{Cart: pc, Orders: make([]domain.Order, 0, len(pc.Orders))}
	r.Cart.Orders = slices.Clone(pc.Orders)
	for _, id := range pc.Orders {
		if o, ok := s.Orders[id]; ok {
			r.Orders = append(r.Orders, cloneOrder(o))
		}
	}
	return r
}

func cloneOrder(o domain.Order) domain.Order {
	o.Referrers = slices.Clone(o.Referrers)
	o.Discussion = slices.Clone(o.Discussion)
	return o
}
