package ledger

import (
	"context"
	"slices"

	"github.com/nazeru/market-ledger-go/internal/market/bounded"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
)

func checkRating(rating uint8, text string) error {
	if rating < 1 || rating > 5 {
		return domain.ErrRatingOutOfBounds
	}
	return domain.CheckLen("text", text, domain.MaxTextLen)
}

// RateItem records a buyer's rating of something they received. Each buyer
// rates an item once; the rating also counts towards the seller.
func (l *Ledger) RateItem(ctx context.Context, buyer domain.AccountID, item domain.Hash, rating uint8, text string) (domain.ItemReview, error) {
	var out domain.ItemReview
	err := l.apply(ctx, "rate_item", func(st *stage) error {
		if err := checkRating(rating, text); err != nil {
			return err
		}
		it, ok := st.s.Items[item]
		if !ok {
			return domain.ErrItemDoesNotExist
		}
		bi := st.buyerIndex(buyer)
		if !slices.Contains(bi.CompletedItems, item) || slices.Contains(bi.RatedItems, item) {
			return domain.ErrNotEligibleToReview
		}
		r := domain.ItemReview{
			ID:        domain.DeriveID(buyer, item, st.now),
			ItemID:    item,
			Reviewer:  buyer,
			Rating:    rating,
			Text:      text,
			CreatedAt: st.now,
		}
		bi.RatedItems, _ = bounded.Push(bi.RatedItems, domain.RatedBound, item)
		st.s.BuyerIndex[buyer] = bi

		it.Rating = it.Rating.Add(rating)
		it.Reviews, _ = bounded.Push(it.Reviews, domain.RatedBound, r.ID)
		st.s.Items[item] = it

		sp := st.sellerProfile(it.Seller)
		sp.Rating = sp.Rating.Add(rating)
		st.s.Sellers[it.Seller] = sp

		st.s.ItemReviews[r.ID] = r
		st.ref = item.String()
		st.emit(contracts.EventItemRated, domain.Hash{}, buyer, map[string]any{"item_id": item.String(), "rating": rating})
		out = r
		return nil
	})
	return out, err
}

// RateCounterparty rates the other side of a completed sale. A buyer rates a
// seller they bought from; failing that, a seller rates a buyer they sold
// to. Each direction of each pair is rated once.
func (l *Ledger) RateCounterparty(ctx context.Context, caller, subject domain.AccountID, rating uint8, text string) (domain.AccountReview, error) {
	var out domain.AccountReview
	err := l.apply(ctx, "rate_counterparty", func(st *stage) error {
		if err := checkRating(rating, text); err != nil {
			return err
		}
		_, isBuyer := st.s.Buyers[subject]
		_, isSeller := st.s.Sellers[subject]
		if !isBuyer && !isSeller {
			return domain.ErrNonexistentAccount
		}
		if caller == subject {
			return domain.ErrNotEligibleToReview
		}
		r := domain.AccountReview{
			Subject:   subject,
			Reviewer:  caller,
			Rating:    rating,
			Text:      text,
			CreatedAt: st.now,
		}

		bi := st.buyerIndex(caller)
		si := st.sellerIndex(caller)
		switch {
		case slices.Contains(bi.Sellers, subject) && !slices.Contains(bi.RatedSellers, subject):
			r.ID = domain.DeriveID(caller, subject, "seller", st.now)
			bi.RatedSellers, _ = bounded.Push(bi.RatedSellers, domain.RatedBound, subject)
			st.s.BuyerIndex[caller] = bi
			p := st.sellerProfile(subject)
			p.Rating = p.Rating.Add(rating)
			p.Reviews, _ = bounded.Push(p.Reviews, domain.RatedBound, r.ID)
			st.s.Sellers[subject] = p
		case slices.Contains(si.Customers, subject) && !slices.Contains(si.RatedBuyers, subject):
			r.ID = domain.DeriveID(caller, subject, "buyer", st.now)
			r.BySeller = true
			si.RatedBuyers, _ = bounded.Push(si.RatedBuyers, domain.RatedBound, subject)
			st.s.SellerIndex[caller] = si
			p := st.buyerProfile(subject)
			p.Rating = p.Rating.Add(rating)
			p.Reviews, _ = bounded.Push(p.Reviews, domain.RatedBound, r.ID)
			st.s.Buyers[subject] = p
		default:
			return domain.ErrNotEligibleToReview
		}
		st.s.AccountReviews[r.ID] = r
		st.emit(contracts.EventAccountRated, domain.Hash{}, caller, map[string]any{
			"subject": string(subject), "rating": rating, "by_seller": r.BySeller,
		})
		out = r
		return nil
	})
	return out, err
}
