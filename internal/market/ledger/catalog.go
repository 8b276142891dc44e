package ledger

import (
	"context"
	"slices"

	"github.com/nazeru/market-ledger-go/internal/market/bounded"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
)

// ItemInput is the seller-editable part of a listing.
type ItemInput struct {
	Kind         domain.ItemKind `json:"kind"`
	Digital      bool            `json:"digital,omitempty"`
	Online       bool            `json:"online,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Brand        string          `json:"brand,omitempty"`
	Category     string          `json:"category,omitempty"`
	Links        []string        `json:"links,omitempty"`
	Location     string          `json:"location,omitempty"`
	DeliveryInfo string          `json:"delivery_info,omitempty"`
	DigitalURL   string          `json:"digital_url,omitempty"`
	Price        domain.Amount   `json:"price"`
	Inventory    uint64          `json:"inventory"`
	ZenoPercent  uint64          `json:"zeno_percent"`
}

func (in ItemInput) validate() error {
	if !in.Kind.Valid() {
		return domain.ErrInvalidKind
	}
	checks := []struct {
		field string
		v     string
		max   int
	}{
		{"title", in.Title, domain.MaxTitleLen},
		{"description", in.Description, domain.MaxDescriptionLen},
		{"brand", in.Brand, domain.MaxLabelLen},
		{"category", in.Category, domain.MaxLabelLen},
		{"location", in.Location, domain.MaxAddressLen},
		{"delivery_info", in.DeliveryInfo, domain.MaxURLLen},
		{"digital_url", in.DigitalURL, domain.MaxURLLen},
	}
	for _, c := range checks {
		if err := domain.CheckLen(c.field, c.v, c.max); err != nil {
			return err
		}
	}
	if len(in.Links) > domain.MaxLinks {
		return &domain.FieldError{Field: "links", Max: domain.MaxLinks, Err: domain.ErrDataTooLarge}
	}
	for _, link := range in.Links {
		if err := domain.CheckLen("links", link, domain.MaxURLLen); err != nil {
			return err
		}
	}
	if in.ZenoPercent > 100 {
		return &domain.FieldError{Field: "zeno_percent", Max: 100, Err: domain.ErrDataTooLarge}
	}
	return nil
}

// ListItem creates a listing owned by seller.
func (l *Ledger) ListItem(ctx context.Context, seller domain.AccountID, in ItemInput) (domain.Item, error) {
	var out domain.Item
	err := l.apply(ctx, "list_item", func(st *stage) error {
		if err := in.validate(); err != nil {
			return err
		}
		id := domain.DeriveID(seller, in.Title, st.now)
		if _, ok := st.s.Items[id]; ok {
			return domain.ErrDuplicate
		}
		idx := st.sellerIndex(seller)
		items, err := bounded.Push(idx.Items, domain.SellerItemsBound, id)
		if err != nil {
			return full("seller items", err)
		}
		idx.Items = items
		st.s.SellerIndex[seller] = idx

		it := domain.Item{
			ID:          id,
			Kind:        in.Kind,
			Digital:     in.Kind == domain.KindProduct && in.Digital,
			Online:      in.Kind == domain.KindService && in.Online,
			Seller:      seller,
			ZenoPercent: in.ZenoPercent,
			CreatedAt:   st.now,
		}
		setEditable(&it, in, st)
		st.s.Items[id] = it
		st.touchSeller(seller)
		st.marketListed(it.Kind)
		st.ref = id.String()
		st.emit(contracts.EventItemListed, domain.Hash{}, seller, map[string]any{
			"item_id": id.String(), "kind": string(it.Kind), "price": uint64(it.Price),
		})
		out = it
		return nil
	})
	return out, err
}

// UpdateItem replaces the editable fields of a listing. Kind, the
// digital/online flag and the referral terms stay as listed.
func (l *Ledger) UpdateItem(ctx context.Context, seller domain.AccountID, id domain.Hash, in ItemInput) (domain.Item, error) {
	var out domain.Item
	err := l.apply(ctx, "update_item", func(st *stage) error {
		it, ok := st.s.Items[id]
		if !ok {
			return domain.ErrItemDoesNotExist
		}
		if it.Seller != seller {
			return domain.ErrNotYourProduct
		}
		in.Kind = it.Kind
		in.ZenoPercent = it.ZenoPercent
		if err := in.validate(); err != nil {
			return err
		}
		setEditable(&it, in, st)
		st.s.Items[id] = it
		st.ref = id.String()
		st.emit(contracts.EventItemUpdated, domain.Hash{}, seller, map[string]any{
			"item_id": id.String(), "price": uint64(it.Price), "inventory": it.Inventory,
		})
		out = it
		return nil
	})
	return out, err
}

func setEditable(it *domain.Item, in ItemInput, st *stage) {
	it.Title = in.Title
	it.Description = in.Description
	it.Brand = in.Brand
	it.Category = in.Category
	it.Links = slices.Clone(in.Links)
	it.Location = in.Location
	it.DeliveryInfo = in.DeliveryInfo
	it.DigitalURL = in.DigitalURL
	it.Price = in.Price
	it.Inventory = in.Inventory
	it.UpdatedAt = st.now
}

// DeleteItem removes a listing. Orders already placed for it keep their copy
// of the title and price.
func (l *Ledger) DeleteItem(ctx context.Context, seller domain.AccountID, id domain.Hash) error {
	return l.apply(ctx, "delete_item", func(st *stage) error {
		it, ok := st.s.Items[id]
		if !ok {
			return domain.ErrItemDoesNotExist
		}
		if it.Seller != seller {
			return domain.ErrNotYourProduct
		}
		delete(st.s.Items, id)
		idx := st.sellerIndex(seller)
		idx.Items = bounded.Remove(idx.Items, id)
		st.s.SellerIndex[seller] = idx
		st.marketDelisted(it.Kind)
		st.ref = id.String()
		st.emit(contracts.EventItemDeleted, domain.Hash{}, seller, map[string]any{"item_id": id.String()})
		return nil
	})
}
