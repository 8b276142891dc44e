package domain

import (
	"encoding/json"
	"time"
)

type ItemKind string

const (
	KindProduct ItemKind = "product"
	KindService ItemKind = "service"
)

func (k ItemKind) Valid() bool { return k == KindProduct || k == KindService }

// Item is a catalog listing. Products and services share one record; Digital
// only applies to products and Online only to services.
type Item struct {
	ID          Hash      `json:"id"`
	Kind        ItemKind  `json:"kind"`
	Digital     bool      `json:"digital,omitempty"`
	Online      bool      `json:"online,omitempty"`
	Seller      AccountID `json:"seller"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Brand       string    `json:"brand,omitempty"`
	Category    string    `json:"category,omitempty"`
	Links       []string  `json:"links,omitempty"`
	Location    string    `json:"location,omitempty"`
	// DeliveryInfo for products, booking link for services.
	DeliveryInfo string `json:"delivery_info,omitempty"`
	DigitalURL   string `json:"digital_url,omitempty"`

	Price       Amount `json:"price"`
	Inventory   uint64 `json:"inventory"`
	ZenoPercent uint64 `json:"zeno_percent"`
	// Referrers are the first buyers of the item, in arrival order. Append only.
	Referrers []AccountID `json:"referrers,omitempty"`

	Rating    Rating    `json:"rating"`
	Reviews   []Hash    `json:"reviews,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InstantFulfillment reports whether an order for the item is delivered at
// checkout: digital products and every service.
func (it Item) InstantFulfillment() bool {
	return it.Kind == KindService || it.Digital
}

// ReferralOpen reports whether new buyers can still join the referral list.
func (it Item) ReferralOpen() bool {
	return it.ZenoPercent > 0 && len(it.Referrers) < MaxReferrers
}

// Rating is an exact integer rating aggregate.
type Rating struct {
	Count uint64 `json:"count"`
	Sum   uint64 `json:"sum"`
}

// Mean is the floor of the average rating, 0 when unrated.
func (r Rating) Mean() uint64 {
	if r.Count == 0 {
		return 0
	}
	return r.Sum / r.Count
}

// Add folds one rating into the aggregate.
func (r Rating) Add(rating uint8) Rating {
	return Rating{Count: r.Count + 1, Sum: r.Sum + uint64(rating)}
}

func (r Rating) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Count uint64 `json:"count"`
		Sum   uint64 `json:"sum"`
		Mean  uint64 `json:"mean"`
	}{r.Count, r.Sum, r.Mean()})
}
