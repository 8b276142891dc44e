package ledger

import (
	"slices"
	"time"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
)

// Views return copies; nothing they return aliases ledger state.

type CartOrders struct {
	Cart   domain.PaidCart `json:"cart"`
	Orders []domain.Order  `json:"orders"`
}

// ViewOrders lists the buyer's paid carts with their orders, oldest first.
func (l *Ledger) ViewOrders(buyer domain.AccountID) []CartOrders {
	out := []CartOrders{}
	l.read(func(s *domain.Snapshot) {
		for _, id := range s.BuyerIndex[buyer].Carts {
			pc, ok := s.PaidCarts[id]
			if !ok {
				continue
			}
			r := receipt(s, pc)
			out = append(out, CartOrders{Cart: r.Cart, Orders: r.Orders})
		}
	})
	return out
}

// ViewSellerOrdersByBucket lists the seller's orders currently in status.
func (l *Ledger) ViewSellerOrdersByBucket(seller domain.AccountID, status domain.OrderStatus) []domain.Order {
	out := []domain.Order{}
	l.read(func(s *domain.Snapshot) {
		idx := s.SellerIndex[seller]
		for _, id := range *idx.Buckets.Bucket(status) {
			if o, ok := s.Orders[id]; ok {
				out = append(out, cloneOrder(o))
			}
		}
	})
	return out
}

// ViewOrder returns one order to either of its parties.
func (l *Ledger) ViewOrder(caller domain.AccountID, id domain.Hash) (domain.Order, []domain.Message, error) {
	var (
		o    domain.Order
		msgs []domain.Message
		err  error
	)
	l.read(func(s *domain.Snapshot) {
		var ok bool
		o, ok = s.Orders[id]
		switch {
		case !ok:
			err = domain.ErrOrderDoesNotExist
		case caller != o.Buyer && caller != o.Seller:
			err = domain.ErrNotYourOrder
		default:
			o = cloneOrder(o)
			for _, m := range o.Discussion {
				msgs = append(msgs, s.Messages[m])
			}
		}
	})
	if err != nil {
		return domain.Order{}, nil, err
	}
	return o, msgs, nil
}

func (l *Ledger) ViewItem(id domain.Hash) (domain.Item, error) {
	var (
		it domain.Item
		ok bool
	)
	l.read(func(s *domain.Snapshot) { it, ok = s.Items[id] })
	if !ok {
		return it, domain.ErrItemDoesNotExist
	}
	return cloneItem(it), nil
}

func cloneItem(it domain.Item) domain.Item {
	it.Links = slices.Clone(it.Links)
	it.Referrers = slices.Clone(it.Referrers)
	it.Reviews = slices.Clone(it.Reviews)
	return it
}

// OrderData is the per-order part of the market statistics.
type OrderData struct {
	Timestamp  time.Time          `json:"timestamp"`
	Total      domain.Amount      `json:"total"`
	Status     domain.OrderStatus `json:"status"`
	Problem    domain.Problem     `json:"problem"`
	Resolution domain.Resolution  `json:"resolution"`
}

type MarketStats struct {
	At       time.Time   `json:"at"`
	Sellers  uint64      `json:"sellers"`
	Buyers   uint64      `json:"buyers"`
	Products uint64      `json:"products"`
	Services uint64      `json:"services"`
	Orders   uint64      `json:"orders"`
	Carts    uint64      `json:"carts"`
	Data     []OrderData `json:"orders_data"`
}

func (l *Ledger) MarketStatistics() MarketStats {
	var st MarketStats
	l.read(func(s *domain.Snapshot) {
		st = MarketStats{
			At:       l.now().UTC(),
			Sellers:  uint64(len(s.Sellers)),
			Buyers:   uint64(len(s.Buyers)),
			Products: s.Market.Products,
			Services: s.Market.Services,
			Orders:   s.Market.Orders,
			Carts:    s.Market.Carts,
			Data:     make([]OrderData, 0, len(s.OrderLog)),
		}
		for _, id := range s.OrderLog {
			o := s.Orders[id]
			st.Data = append(st.Data, OrderData{
				Timestamp:  o.CreatedAt,
				Total:      o.LineTotal,
				Status:     o.Status,
				Problem:    o.Problem,
				Resolution: o.Resolution,
			})
		}
	})
	return st
}

// Download is a digital item the buyer owns.
type Download struct {
	ItemID domain.Hash      `json:"item_id"`
	Title  string           `json:"title"`
	Seller domain.AccountID `json:"seller"`
	URL    string           `json:"url,omitempty"`
}

type BuyerAccount struct {
	Profile   domain.BuyerProfile    `json:"profile"`
	Reviews   []domain.AccountReview `json:"reviews"`
	Downloads []Download             `json:"downloads"`
}

func (l *Ledger) ViewBuyerAccount(buyer domain.AccountID) (BuyerAccount, error) {
	var (
		v  BuyerAccount
		ok bool
	)
	l.read(func(s *domain.Snapshot) {
		v.Profile, ok = s.Buyers[buyer]
		if !ok {
			return
		}
		v.Profile.Reviews = slices.Clone(v.Profile.Reviews)
		v.Reviews = accountReviews(s, v.Profile.Reviews)
		v.Downloads = []Download{}
		for _, id := range s.BuyerIndex[buyer].OwnedDigital {
			it, found := s.Items[id]
			if !found {
				continue
			}
			v.Downloads = append(v.Downloads, Download{ItemID: id, Title: it.Title, Seller: it.Seller, URL: it.DigitalURL})
		}
	})
	if !ok {
		return BuyerAccount{}, domain.ErrNonexistentAccount
	}
	return v, nil
}

type SellerAccount struct {
	Profile domain.SellerProfile   `json:"profile"`
	Reviews []domain.AccountReview `json:"reviews"`
	Items   []domain.Item          `json:"items"`
	// Current holds the orders that still need the seller: awaiting,
	// shipped and problem.
	Current []domain.Order `json:"current_orders"`
}

func (l *Ledger) ViewSellerAccount(seller domain.AccountID) (SellerAccount, error) {
	var (
		v  SellerAccount
		ok bool
	)
	l.read(func(s *domain.Snapshot) {
		v.Profile, ok = s.Sellers[seller]
		if !ok {
			return
		}
		v.Profile.Reviews = slices.Clone(v.Profile.Reviews)
		v.Reviews = accountReviews(s, v.Profile.Reviews)
		v.Items = storeItems(s, seller)
		v.Current = []domain.Order{}
		idx := s.SellerIndex[seller]
		for _, st := range []domain.OrderStatus{domain.OrderAwaiting, domain.OrderShipped, domain.OrderProblem} {
			for _, id := range *idx.Buckets.Bucket(st) {
				v.Current = append(v.Current, cloneOrder(s.Orders[id]))
			}
		}
	})
	if !ok {
		return SellerAccount{}, domain.ErrNonexistentAccount
	}
	return v, nil
}

type Store struct {
	Owner    domain.SellerProfile `json:"owner"`
	Products []domain.Item        `json:"products"`
	Services []domain.Item        `json:"services"`
}

// ViewStore is the public face of a seller.
func (l *Ledger) ViewStore(seller domain.AccountID) (Store, error) {
	var (
		v  Store
		ok bool
	)
	l.read(func(s *domain.Snapshot) {
		v.Owner, ok = s.Sellers[seller]
		if !ok {
			return
		}
		v.Owner.Reviews = slices.Clone(v.Owner.Reviews)
		v.Products, v.Services = splitKinds(storeItems(s, seller))
	})
	if !ok {
		return Store{}, domain.ErrNonexistentAccount
	}
	return v, nil
}

// ReferralOpportunities lists items whose referral list still has room.
func (l *Ledger) ReferralOpportunities() (products, services []domain.Item) {
	var items []domain.Item
	l.read(func(s *domain.Snapshot) {
		for _, it := range s.Items {
			if it.ReferralOpen() {
				items = append(items, cloneItem(it))
			}
		}
	})
	slices.SortFunc(items, func(a, b domain.Item) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return splitKinds(items)
}

func storeItems(s *domain.Snapshot, seller domain.AccountID) []domain.Item {
	out := []domain.Item{}
	for _, id := range s.SellerIndex[seller].Items {
		if it, ok := s.Items[id]; ok {
			out = append(out, cloneItem(it))
		}
	}
	return out
}

func splitKinds(items []domain.Item) (products, services []domain.Item) {
	products, services = []domain.Item{}, []domain.Item{}
	for _, it := range items {
		if it.Kind == domain.KindService {
			services = append(services, it)
		} else {
			products = append(products, it)
		}
	}
	return products, services
}

func accountReviews(s *domain.Snapshot, ids []domain.Hash) []domain.AccountReview {
	out := make([]domain.AccountReview, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.AccountReviews[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
