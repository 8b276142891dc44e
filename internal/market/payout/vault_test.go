package payout

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

func prepare(t *testing.T, v *MemoryVault, txid string, b Batch) protocol.PrepareResponse {
	t.Helper()
	resp, err := v.Prepare(context.Background(), protocol.PrepareRequest{TxID: common.TxID("tx-" + txid), Payload: b.Payload()})
	require.NoError(t, err)
	return resp
}

func TestMemoryVaultDepositThenRelease(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()

	resp := prepare(t, v, "1", Batch{From: "buyer", Deposit: 200})
	require.True(t, resp.VoteYes)
	assert.Zero(t, v.Balance(), "prepare must not move funds")
	require.NoError(t, v.Commit(ctx, protocol.CommitRequest{TxID: "tx-1"}))
	assert.Equal(t, domain.Amount(200), v.Balance())
	assert.Equal(t, domain.Amount(200), v.PaidIn("buyer"))

	o := domain.Order{Seller: "seller", LineTotal: 200, ZenoTotal: 40, Referrers: []domain.AccountID{"r1", "r2"}}
	b := Batch{}
	b.Add(Split(o)...)
	require.True(t, prepare(t, v, "2", b).VoteYes)
	require.NoError(t, v.Commit(ctx, protocol.CommitRequest{TxID: "tx-2"}))

	assert.Zero(t, v.Balance())
	assert.Equal(t, domain.Amount(170), v.Credited("seller"))
	assert.Equal(t, domain.Amount(20), v.Credited("r1"))
	assert.Equal(t, domain.Amount(10), v.Credited("r2"))

	// replayed commit is a no-op
	require.NoError(t, v.Commit(ctx, protocol.CommitRequest{TxID: "tx-2"}))
	assert.Equal(t, domain.Amount(170), v.Credited("seller"))
}

func TestMemoryVaultVotesNo(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()

	resp := prepare(t, v, "1", Batch{Transfers: []Transfer{{To: "seller", Amount: 1}}})
	assert.False(t, resp.VoteYes)
	assert.Contains(t, resp.Reason, "does not cover")

	v.Reject("r1")
	resp = prepare(t, v, "2", Batch{Deposit: 10, Transfers: []Transfer{{To: "r1", Amount: 5}}})
	assert.False(t, resp.VoteYes)
	require.NoError(t, v.Commit(ctx, protocol.CommitRequest{TxID: "tx-2"}))
	assert.Zero(t, v.Balance())
}

func TestMemoryVaultReservationsAndAbort(t *testing.T) {
	ctx := context.Background()
	v := NewMemoryVault()
	require.True(t, prepare(t, v, "0", Batch{Deposit: 100}).VoteYes)
	require.NoError(t, v.Commit(ctx, protocol.CommitRequest{TxID: "tx-0"}))

	require.True(t, prepare(t, v, "1", Batch{Transfers: []Transfer{{To: "a", Amount: 80}}}).VoteYes)
	assert.False(t, prepare(t, v, "2", Batch{Transfers: []Transfer{{To: "b", Amount: 30}}}).VoteYes)

	require.NoError(t, v.Abort(ctx, protocol.AbortRequest{TxID: "tx-1"}))
	assert.True(t, prepare(t, v, "3", Batch{Transfers: []Transfer{{To: "b", Amount: 30}}}).VoteYes)
	assert.Equal(t, domain.Amount(100), v.Balance())
}

func TestHTTPVaultAgainstHandler(t *testing.T) {
	mv := NewMemoryVault()
	srv := httptest.NewServer(Handler(mv, nil, "test"))
	defer srv.Close()

	hv := NewHTTPVault(srv.URL+"/", srv.Client())
	ctx := context.Background()

	resp, err := hv.Prepare(ctx, protocol.PrepareRequest{TxID: "tx-1", Payload: Batch{From: "buyer", Deposit: 50}.Payload()})
	require.NoError(t, err)
	require.True(t, resp.VoteYes)
	require.NoError(t, hv.Commit(ctx, protocol.CommitRequest{TxID: "tx-1"}))
	assert.Equal(t, domain.Amount(50), mv.Balance())

	resp, err = hv.Prepare(ctx, protocol.PrepareRequest{TxID: "tx-2", Payload: Batch{Transfers: []Transfer{{To: "x", Amount: 51}}}.Payload()})
	require.NoError(t, err)
	assert.False(t, resp.VoteYes)
	assert.Contains(t, resp.Reason, "does not cover")

	require.NoError(t, hv.Abort(ctx, protocol.AbortRequest{TxID: "tx-2"}))
	assert.Equal(t, domain.Amount(50), mv.Balance())
}
