package domain

import "time"

type CartLine struct {
	ItemID   Hash   `json:"item_id"`
	Quantity uint64 `json:"quantity"`
}

// Cart is a buyer's pending selection. Totals are never stored; they are
// recomputed from live catalog prices on every read.
type Cart struct {
	Buyer     AccountID  `json:"buyer"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Line returns the index of item in the cart, or -1.
func (c Cart) Line(item Hash) int {
	for i, l := range c.Lines {
		if l.ItemID == item {
			return i
		}
	}
	return -1
}
