package domain

import (
	"maps"
	"time"
)

// SellerBuckets partitions a seller's orders by lifecycle status.
type SellerBuckets struct {
	Awaiting  []Hash `json:"awaiting,omitempty"`
	Shipped   []Hash `json:"shipped,omitempty"`
	Delivered []Hash `json:"delivered,omitempty"`
	Resolved  []Hash `json:"resolved,omitempty"`
	Problem   []Hash `json:"problem,omitempty"`
	Refused   []Hash `json:"refused,omitempty"`
}

// Bucket returns a pointer to the list for status s.
func (b *SellerBuckets) Bucket(s OrderStatus) *[]Hash {
	switch s {
	case OrderAwaiting:
		return &b.Awaiting
	case OrderShipped:
		return &b.Shipped
	case OrderDelivered:
		return &b.Delivered
	case OrderResolved:
		return &b.Resolved
	case OrderProblem:
		return &b.Problem
	default:
		return &b.Refused
	}
}

// BuyerIndex holds the derived per-buyer lists.
type BuyerIndex struct {
	Orders         []Hash      `json:"orders,omitempty"`
	Carts          []Hash      `json:"carts,omitempty"`
	OwnedDigital   []Hash      `json:"owned_digital,omitempty"`
	CompletedItems []Hash      `json:"completed_items,omitempty"`
	Sellers        []AccountID `json:"sellers,omitempty"`
	RatedItems     []Hash      `json:"rated_items,omitempty"`
	RatedSellers   []AccountID `json:"rated_sellers,omitempty"`
}

// SellerIndex holds the derived per-seller lists.
type SellerIndex struct {
	Buckets     SellerBuckets `json:"buckets"`
	Items       []Hash        `json:"items,omitempty"`
	Customers   []AccountID   `json:"customers,omitempty"`
	RatedBuyers []AccountID   `json:"rated_buyers,omitempty"`
}

// MarketCounters are the aggregate market statistics.
type MarketCounters struct {
	Products uint64 `json:"products"`
	Services uint64 `json:"services"`
	Orders   uint64 `json:"orders"`
	Carts    uint64 `json:"carts"`
}

// Snapshot is the complete ledger state. Entities are stored by value and
// the slices inside them are only ever replaced, never written in place, so
// Clone only has to copy the maps.
type Snapshot struct {
	Version int `json:"version"`
	// Seq counts committed mutations.
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`

	Items          map[Hash]Item               `json:"items"`
	Carts          map[AccountID]Cart          `json:"carts"`
	Orders         map[Hash]Order              `json:"orders"`
	PaidCarts      map[Hash]PaidCart           `json:"paid_carts"`
	Messages       map[Hash]Message            `json:"messages"`
	ItemReviews    map[Hash]ItemReview         `json:"item_reviews"`
	AccountReviews map[Hash]AccountReview      `json:"account_reviews"`
	Buyers         map[AccountID]BuyerProfile  `json:"buyers"`
	Sellers        map[AccountID]SellerProfile `json:"sellers"`
	BuyerIndex     map[AccountID]BuyerIndex    `json:"buyer_index"`
	SellerIndex    map[AccountID]SellerIndex   `json:"seller_index"`
	// IdempotencyKeys maps a buyer scoped checkout key to its paid cart;
	// IdempotencyOrder bounds how many are remembered.
	IdempotencyKeys  map[string]Hash `json:"idempotency_keys"`
	IdempotencyOrder []string        `json:"idempotency_order,omitempty"`
	// OrderLog is every order id in creation order.
	OrderLog []Hash         `json:"order_log,omitempty"`
	Market   MarketCounters `json:"market"`
}

const SnapshotVersion = 1

func NewSnapshot(now time.Time) *Snapshot {
	s := &Snapshot{Version: SnapshotVersion, UpdatedAt: now}
	s.ensureMaps()
	return s
}

// Normalize fills in maps a decoded snapshot may be missing.
func (s *Snapshot) Normalize() {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	s.ensureMaps()
}

func (s *Snapshot) ensureMaps() {
	if s.Items == nil {
		s.Items = map[Hash]Item{}
	}
	if s.Carts == nil {
		s.Carts = map[AccountID]Cart{}
	}
	if s.Orders == nil {
		s.Orders = map[Hash]Order{}
	}
	if s.PaidCarts == nil {
		s.PaidCarts = map[Hash]PaidCart{}
	}
	if s.Messages == nil {
		s.Messages = map[Hash]Message{}
	}
	if s.ItemReviews == nil {
		s.ItemReviews = map[Hash]ItemReview{}
	}
	if s.AccountReviews == nil {
		s.AccountReviews = map[Hash]AccountReview{}
	}
	if s.Buyers == nil {
		s.Buyers = map[AccountID]BuyerProfile{}
	}
	if s.Sellers == nil {
		s.Sellers = map[AccountID]SellerProfile{}
	}
	if s.BuyerIndex == nil {
		s.BuyerIndex = map[AccountID]BuyerIndex{}
	}
	if s.SellerIndex == nil {
		s.SellerIndex = map[AccountID]SellerIndex{}
	}
	if s.IdempotencyKeys == nil {
		s.IdempotencyKeys = map[string]Hash{}
	}
}

// Clone returns a copy that can be mutated without touching s.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Items = maps.Clone(s.Items)
	c.Carts = maps.Clone(s.Carts)
	c.Orders = maps.Clone(s.Orders)
	c.PaidCarts = maps.Clone(s.PaidCarts)
	c.Messages = maps.Clone(s.Messages)
	c.ItemReviews = maps.Clone(s.ItemReviews)
	c.AccountReviews = maps.Clone(s.AccountReviews)
	c.Buyers = maps.Clone(s.Buyers)
	c.Sellers = maps.Clone(s.Sellers)
	c.BuyerIndex = maps.Clone(s.BuyerIndex)
	c.SellerIndex = maps.Clone(s.SellerIndex)
	c.IdempotencyKeys = maps.Clone(s.IdempotencyKeys)
	return &c
}
