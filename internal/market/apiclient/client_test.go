package apiclient

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/httpapi"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
)

func newClient(t *testing.T, account domain.AccountID) *Client {
	t.Helper()
	l, err := ledger.Open(context.Background(), ledger.Options{Service: "test"})
	require.NoError(t, err)
	srv := httptest.NewServer((&httpapi.Server{Ledger: l, Service: "test"}).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, account, srv.Client())
}

func TestClientCheckoutFlow(t *testing.T) {
	ctx := context.Background()
	seller := newClient(t, "alice")
	buyer := seller.As("bob")

	it, err := seller.ListItem(ctx, ledger.ItemInput{Kind: domain.KindProduct, Title: "kettle", Price: 1250, Inventory: 4, ZenoPercent: 5})
	require.NoError(t, err)

	cart, err := buyer.AddToCart(ctx, it.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(2500), cart.Total)

	rc, err := buyer.Checkout(ctx, ledger.CheckoutInput{DeliverToAddress: "2 Side St", Tendered: cart.Total}, "retry-1")
	require.NoError(t, err)
	require.Len(t, rc.Orders, 1)
	assert.Equal(t, domain.OrderAwaiting, rc.Orders[0].Status)

	again, err := buyer.Checkout(ctx, ledger.CheckoutInput{Tendered: cart.Total}, "retry-1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, rc.Cart.ID, again.Cart.ID)

	o, err := seller.AdvanceOrder(ctx, rc.Orders[0].ID, "T-9", true, false)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, o.Status)

	st, err := seller.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Orders)
	require.Len(t, st.Data, 1)
	assert.Equal(t, domain.OrderShipped, st.Data[0].Status)

	refs, err := buyer.Referrals(ctx)
	require.NoError(t, err)
	require.Len(t, refs.Products, 1)
	assert.Equal(t, []domain.AccountID{"bob"}, refs.Products[0].Referrers)
}

func TestClientSurfacesErrorCodes(t *testing.T) {
	ctx := context.Background()
	buyer := newClient(t, "bob")

	_, err := buyer.Checkout(ctx, ledger.CheckoutInput{Tendered: 1}, "")
	require.Error(t, err)
	assert.True(t, IsCode(err, "empty_cart"))

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.Status)

	_, err = buyer.As("").ViewCart(ctx)
	assert.True(t, IsCode(err, "unauthenticated"))
}

func TestAmounts(t *testing.T) {
	assert.Equal(t, "12.50", FormatAmount(1250, 2))
	assert.Equal(t, "0.07", FormatAmount(7, 2))
	assert.Equal(t, "18446744073709551615", FormatAmount(math.MaxUint64, 0))

	cases := []struct {
		in   string
		want domain.Amount
		ok   bool
	}{
		{"12.5", 1250, true},
		{"0.01", 1, true},
		{"3", 300, true},
		{"1.001", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
		{"184467440737095516.16", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in, 2)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
