package ledger

import (
	"errors"
	"fmt"

	"github.com/nazeru/market-ledger-go/internal/market/bounded"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
)

// Every change to a profile counter, a member-since date or the market
// tallies goes through the functions in this file.

func (st *stage) buyerProfile(a domain.AccountID) domain.BuyerProfile {
	p, ok := st.s.Buyers[a]
	if !ok {
		p = domain.BuyerProfile{Account: a, MemberSince: st.now}
	}
	return p
}

func (st *stage) sellerProfile(a domain.AccountID) domain.SellerProfile {
	p, ok := st.s.Sellers[a]
	if !ok {
		p = domain.SellerProfile{Account: a, MemberSince: st.now}
	}
	return p
}

// touchSeller creates the seller profile on its first successful action.
func (st *stage) touchSeller(a domain.AccountID) {
	st.s.Sellers[a] = st.sellerProfile(a)
}

func (st *stage) countBuyer(a domain.AccountID, fn func(c *domain.Counters)) {
	p := st.buyerProfile(a)
	fn(&p.Counters)
	st.s.Buyers[a] = p
}

func (st *stage) countSeller(a domain.AccountID, fn func(c *domain.Counters)) {
	p := st.sellerProfile(a)
	fn(&p.Counters)
	st.s.Sellers[a] = p
}

// countBoth applies fn to the buyer and the seller of o.
func (st *stage) countBoth(o domain.Order, fn func(c *domain.Counters)) {
	st.countBuyer(o.Buyer, fn)
	st.countSeller(o.Seller, fn)
}

func incCarts(c *domain.Counters)     { c.Carts++ }
func incOrders(c *domain.Counters)    { c.Orders++ }
func incDelivered(c *domain.Counters) { c.Delivered++ }
func incResolved(c *domain.Counters)  { c.Resolved++ }
func incRefused(c *domain.Counters)   { c.Refused++ }

// problemReported moves one order from delivered to the tally for kind.
func problemReported(kind domain.Problem) func(c *domain.Counters) {
	return func(c *domain.Counters) {
		if c.Delivered > 0 {
			c.Delivered--
		}
		switch kind {
		case domain.ProblemDamaged:
			c.Damaged++
		case domain.ProblemWrongItem:
			c.Wrong++
		case domain.ProblemNotReceived:
			c.NotReceived++
		}
	}
}

func (st *stage) marketListed(k domain.ItemKind) {
	if k == domain.KindService {
		st.s.Market.Services++
	} else {
		st.s.Market.Products++
	}
}

func (st *stage) marketDelisted(k domain.ItemKind) {
	n := &st.s.Market.Products
	if k == domain.KindService {
		n = &st.s.Market.Services
	}
	if *n > 0 {
		*n--
	}
}

func (st *stage) marketCheckout(orders int) {
	st.s.Market.Carts++
	st.s.Market.Orders += uint64(orders)
}

func (st *stage) buyerIndex(a domain.AccountID) domain.BuyerIndex { return st.s.BuyerIndex[a] }

func (st *stage) sellerIndex(a domain.AccountID) domain.SellerIndex { return st.s.SellerIndex[a] }

// moveBucket moves order o between the seller's status buckets and records
// the transition.
func (st *stage) moveBucket(o *domain.Order, to domain.OrderStatus) error {
	idx := st.sellerIndex(o.Seller)
	from := o.Status
	src, dst, err := bounded.Move(*idx.Buckets.Bucket(from), *idx.Buckets.Bucket(to), domain.BucketBound(to), o.ID)
	if err != nil {
		return full(fmt.Sprintf("seller %s bucket", to), err)
	}
	*idx.Buckets.Bucket(from) = src
	*idx.Buckets.Bucket(to) = dst
	st.s.SellerIndex[o.Seller] = idx

	o.Status = to
	o.UpdatedAt = st.now
	st.moves = append(st.moves, [2]domain.OrderStatus{from, to})
	return nil
}

// completePurchase records that o's buyer received what they paid for.
func (st *stage) completePurchase(o domain.Order) {
	bi := st.buyerIndex(o.Buyer)
	bi.CompletedItems, _ = bounded.PushUnique(bi.CompletedItems, domain.CompletedItemsBound, o.ItemID)
	bi.Sellers, _ = bounded.PushUnique(bi.Sellers, domain.CounterpartiesBound, o.Seller)
	st.s.BuyerIndex[o.Buyer] = bi

	si := st.sellerIndex(o.Seller)
	si.Customers, _ = bounded.PushUnique(si.Customers, domain.CounterpartiesBound, o.Buyer)
	st.s.SellerIndex[o.Seller] = si
}

// full turns a rejected bounded push into ErrStorageFull.
func full(what string, err error) error {
	if errors.Is(err, bounded.ErrFull) {
		return fmt.Errorf("%s: %w", what, domain.ErrStorageFull)
	}
	return err
}
