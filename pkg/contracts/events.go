package contracts

import "time"

type Event struct {
	EventID   string         `json:"event_id"`
	TxID      string         `json:"txid"`
	OrderID   string         `json:"order_id,omitempty"`
	Account   string         `json:"account,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventItemListed     = "item.listed"
	EventItemUpdated    = "item.updated"
	EventItemDeleted    = "item.deleted"
	EventCartCheckedOut = "cart.checked_out"
	EventOrderPlaced    = "order.placed"
	EventOrderShipped   = "order.shipped"
	EventOrderDelivered = "order.delivered"
	EventOrderProblem   = "order.problem_reported"
	EventOrderResolved  = "order.resolved"
	EventOrderRefused   = "order.refused"
	EventOrderMessage   = "order.message"
	EventPayoutReleased = "payout.released"
	EventItemRated      = "item.rated"
	EventAccountRated   = "account.rated"
)

// Topic is the default kafka topic market events are relayed to.
const Topic = "market.events"

// Key is the partition key of evt: its order when it has one, otherwise the
// acting account.
func Key(evt Event) string {
	if evt.OrderID != "" {
		return evt.OrderID
	}
	return evt.Account
}
