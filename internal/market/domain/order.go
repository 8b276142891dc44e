package domain

import (
	"fmt"
	"time"
)

type OrderStatus uint8

const (
	OrderAwaiting  OrderStatus = 0
	OrderShipped   OrderStatus = 1
	OrderDelivered OrderStatus = 2
	OrderResolved  OrderStatus = 3
	OrderProblem   OrderStatus = 4
	OrderRefused   OrderStatus = 5
)

// OrderStatuses lists every status in code order.
var OrderStatuses = []OrderStatus{OrderAwaiting, OrderShipped, OrderDelivered, OrderResolved, OrderProblem, OrderRefused}

var statusNames = map[OrderStatus]string{
	OrderAwaiting:  "awaiting",
	OrderShipped:   "shipped",
	OrderDelivered: "delivered",
	OrderResolved:  "resolved",
	OrderProblem:   "problem",
	OrderRefused:   "refused",
}

func (s OrderStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool { return s == OrderResolved || s == OrderRefused }

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseOrderStatus(name string) (OrderStatus, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", name)
}

type Problem uint8

const (
	ProblemNone        Problem = 0
	ProblemDamaged     Problem = 1
	ProblemWrongItem   Problem = 2
	ProblemNotReceived Problem = 3
)

var problemNames = map[Problem]string{
	ProblemNone:        "none",
	ProblemDamaged:     "damaged",
	ProblemWrongItem:   "wrong_item",
	ProblemNotReceived: "not_received",
}

func (p Problem) String() string {
	if n, ok := problemNames[p]; ok {
		return n
	}
	return fmt.Sprintf("problem(%d)", uint8(p))
}

func (p Problem) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Problem) UnmarshalText(text []byte) error {
	for k, n := range problemNames {
		if n == string(text) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown problem %q", text)
}

type Resolution uint8

const (
	ResolutionNone     Resolution = 0
	ResolutionRefunded Resolution = 1
	ResolutionReplaced Resolution = 2
	ResolutionDenied   Resolution = 3
)

var resolutionNames = map[Resolution]string{
	ResolutionNone:     "none",
	ResolutionRefunded: "refunded",
	ResolutionReplaced: "replaced",
	ResolutionDenied:   "denied",
}

func (r Resolution) String() string {
	if n, ok := resolutionNames[r]; ok {
		return n
	}
	return fmt.Sprintf("resolution(%d)", uint8(r))
}

func (r Resolution) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Resolution) UnmarshalText(text []byte) error {
	for k, n := range resolutionNames {
		if n == string(text) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown resolution %q", text)
}

type Fulfillment string

const (
	FulfillPhysical Fulfillment = "physical"
	FulfillInstant  Fulfillment = "instant"
)

// Order is one line of a checkout. Everything above Status is fixed when the
// order is created.
type Order struct {
	ID          Hash        `json:"id"`
	CartID      Hash        `json:"cart_id"`
	CreatedAt   time.Time   `json:"created_at"`
	Buyer       AccountID   `json:"buyer"`
	Seller      AccountID   `json:"seller"`
	ItemID      Hash        `json:"item_id"`
	ItemTitle   string      `json:"item_title"`
	Fulfillment Fulfillment `json:"fulfillment"`
	Quantity    uint64      `json:"quantity"`
	UnitPrice   Amount      `json:"unit_price"`
	// LineTotal is Quantity * UnitPrice (saturating).
	LineTotal        Amount    `json:"line_total"`
	DeliverToAddress string    `json:"deliver_to_address,omitempty"`
	DeliverToAccount AccountID `json:"deliver_to_account,omitempty"`
	// ZenoTotal is the referral share of LineTotal and Referrers the accounts
	// it is split between; both are frozen at creation.
	ZenoTotal Amount      `json:"zeno_total"`
	Referrers []AccountID `json:"referrers,omitempty"`

	Status        OrderStatus `json:"status"`
	Tracking      string      `json:"tracking,omitempty"`
	TimeDelivered time.Time   `json:"time_delivered,omitempty"`
	Discussion    []Hash      `json:"discussion,omitempty"`
	Problem       Problem     `json:"problem"`
	Resolution    Resolution  `json:"resolution"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// SellerPayout is the part of the line total that goes straight to the seller
// on release, before any referral remainder.
func (o Order) SellerPayout() Amount { return o.LineTotal - o.ZenoTotal }

// PaidCart records one successful checkout.
type PaidCart struct {
	ID               Hash      `json:"id"`
	Buyer            AccountID `json:"buyer"`
	CreatedAt        time.Time `json:"created_at"`
	Total            Amount    `json:"total"`
	Tendered         Amount    `json:"tendered"`
	DeliverToAddress string    `json:"deliver_to_address,omitempty"`
	DeliverToAccount AccountID `json:"deliver_to_account,omitempty"`
	Orders           []Hash    `json:"orders"`
	UnitCount        uint64    `json:"unit_count"`
	IdempotencyKey   string    `json:"idempotency_key,omitempty"`
}

// Message is one discussion entry on an order.
type Message struct {
	ID        Hash      `json:"id"`
	OrderID   Hash      `json:"order_id"`
	From      AccountID `json:"from"`
	To        AccountID `json:"to"`
	Text      string    `json:"text"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
