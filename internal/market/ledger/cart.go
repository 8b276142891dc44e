package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
)

type CartLineView struct {
	ItemID    domain.Hash      `json:"item_id"`
	Title     string           `json:"title,omitempty"`
	Seller    domain.AccountID `json:"seller,omitempty"`
	UnitPrice domain.Amount    `json:"unit_price"`
	Quantity  uint64           `json:"quantity"`
	Inventory uint64           `json:"inventory"`
	LineTotal domain.Amount    `json:"line_total"`
	// InStock is false when the item is gone or has fewer units than the
	// line asks for. Checkout skips such lines.
	InStock bool `json:"in_stock"`
}

// CartView prices a cart against the live catalog.
type CartView struct {
	Buyer     domain.AccountID `json:"buyer"`
	Lines     []CartLineView   `json:"lines"`
	ItemCount uint64           `json:"item_count"`
	// Total covers the lines checkout would buy, ListedTotal every line.
	Total       domain.Amount `json:"total"`
	ListedTotal domain.Amount `json:"listed_total"`
}

func viewCart(s *domain.Snapshot, buyer domain.AccountID) CartView {
	v := CartView{Buyer: buyer, Lines: []CartLineView{}}
	for _, line := range s.Carts[buyer].Lines {
		lv := CartLineView{ItemID: line.ItemID, Quantity: line.Quantity}
		if it, ok := s.Items[line.ItemID]; ok {
			lv.Title = it.Title
			lv.Seller = it.Seller
			lv.UnitPrice = it.Price
			lv.Inventory = it.Inventory
			lv.LineTotal = it.Price.MulSat(line.Quantity)
			lv.InStock = line.Quantity <= it.Inventory
		}
		v.ItemCount += line.Quantity
		v.ListedTotal = v.ListedTotal.AddSat(lv.LineTotal)
		if lv.InStock {
			v.Total = v.Total.AddSat(lv.LineTotal)
		}
		v.Lines = append(v.Lines, lv)
	}
	return v
}

func (l *Ledger) ViewCart(buyer domain.AccountID) CartView {
	var v CartView
	l.read(func(s *domain.Snapshot) { v = viewCart(s, buyer) })
	return v
}

// AddToCart adds qty units of item, merging with an existing line.
func (l *Ledger) AddToCart(ctx context.Context, buyer domain.AccountID, item domain.Hash, qty uint64) (CartView, error) {
	if qty == 0 {
		return CartView{}, fmt.Errorf("add_to_cart: %w", domain.ErrInvalidQuantity)
	}
	return l.editCart(ctx, "add_to_cart", buyer, item, func(cur uint64) uint64 {
		sum := cur + qty
		if sum < cur {
			return ^uint64(0)
		}
		return sum
	})
}

// SetCartQuantity sets the line for item to qty; zero removes it.
func (l *Ledger) SetCartQuantity(ctx context.Context, buyer domain.AccountID, item domain.Hash, qty uint64) (CartView, error) {
	return l.editCart(ctx, "set_cart_quantity", buyer, item, func(uint64) uint64 { return qty })
}

// RemoveFromCart drops the line for item. Removing a line that is not there
// is a no-op.
func (l *Ledger) RemoveFromCart(ctx context.Context, buyer domain.AccountID, item domain.Hash) (CartView, error) {
	var v CartView
	err := l.apply(ctx, "remove_from_cart", func(st *stage) error {
		c, ok := st.s.Carts[buyer]
		if !ok || c.Line(item) < 0 {
			st.skip = true
			v = viewCart(st.s, buyer)
			return nil
		}
		st.putCart(c, item, 0)
		v = viewCart(st.s, buyer)
		return nil
	})
	return v, err
}

func (l *Ledger) editCart(ctx context.Context, op string, buyer domain.AccountID, item domain.Hash, qty func(cur uint64) uint64) (CartView, error) {
	var v CartView
	err := l.apply(ctx, op, func(st *stage) error {
		if _, ok := st.s.Items[item]; !ok {
			return domain.ErrItemDoesNotExist
		}
		c, ok := st.s.Carts[buyer]
		if !ok {
			c = domain.Cart{Buyer: buyer}
		}
		var cur uint64
		i := c.Line(item)
		if i >= 0 {
			cur = c.Lines[i].Quantity
		}
		n := qty(cur)
		if i < 0 && n > 0 && len(c.Lines) >= domain.MaxCartLines {
			return &domain.FieldError{Field: "cart", Max: domain.MaxCartLines, Err: domain.ErrStorageFull}
		}
		st.putCart(c, item, n)
		v = viewCart(st.s, buyer)
		return nil
	})
	return v, err
}

// putCart stores c with the line for item set to qty. An empty cart is
// deleted.
func (st *stage) putCart(c domain.Cart, item domain.Hash, qty uint64) {
	lines := slices.Clone(c.Lines)
	i := c.Line(item)
	switch {
	case qty == 0 && i >= 0:
		lines = slices.Delete(lines, i, i+1)
	case qty == 0:
	case i >= 0:
		lines[i].Quantity = qty
	default:
		lines = append(lines, domain.CartLine{ItemID: item, Quantity: qty})
	}
	if len(lines) == 0 {
		delete(st.s.Carts, c.Buyer)
		return
	}
	c.Lines = lines
	c.UpdatedAt = st.now
	st.s.Carts[c.Buyer] = c
}
