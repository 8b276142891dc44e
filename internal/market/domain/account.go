package domain

import "time"

// Counters are the monotone order tallies kept on both sides of a sale.
// Delivered is the one exception: it is decremented when a delivered order
// turns into a problem.
type Counters struct {
	Carts       uint64 `json:"carts,omitempty"`
	Orders      uint64 `json:"orders"`
	Delivered   uint64 `json:"delivered"`
	Damaged     uint64 `json:"damaged"`
	Wrong       uint64 `json:"wrong"`
	NotReceived uint64 `json:"not_received"`
	Resolved    uint64 `json:"resolved"`
	Refused     uint64 `json:"refused"`
}

type BuyerProfile struct {
	Account     AccountID `json:"account"`
	MemberSince time.Time `json:"member_since"`
	Counters    Counters  `json:"counters"`
	// Rating is what sellers think of this buyer.
	Rating  Rating `json:"rating"`
	Reviews []Hash `json:"reviews,omitempty"`
}

type SellerProfile struct {
	Account     AccountID `json:"account"`
	MemberSince time.Time `json:"member_since"`
	Counters    Counters  `json:"counters"`
	Rating      Rating    `json:"rating"`
	Reviews     []Hash    `json:"reviews,omitempty"`
}

// ItemReview is a buyer's review of something they bought.
type ItemReview struct {
	ID        Hash      `json:"id"`
	ItemID    Hash      `json:"item_id"`
	Reviewer  AccountID `json:"reviewer"`
	Rating    uint8     `json:"rating"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountReview is a buyer reviewing a seller or a seller reviewing a buyer.
type AccountReview struct {
	ID        Hash      `json:"id"`
	Subject   AccountID `json:"subject"`
	Reviewer  AccountID `json:"reviewer"`
	BySeller  bool      `json:"by_seller"`
	Rating    uint8     `json:"rating"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
