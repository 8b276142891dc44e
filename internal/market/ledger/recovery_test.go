package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/internal/market/store"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

// flakyVault prepares normally but loses the next failCommits COMMITs.
type flakyVault struct {
	*payout.MemoryVault
	mu          sync.Mutex
	failCommits int
}

func (v *flakyVault) Commit(ctx context.Context, req protocol.CommitRequest) error {
	v.mu.Lock()
	fail := v.failCommits > 0
	if fail {
		v.failCommits--
	}
	v.mu.Unlock()
	if fail {
		return errors.New("vault unreachable")
	}
	return v.MemoryVault.Commit(ctx, req)
}

// lostAckStore applies the next COMMIT but reports it failed.
type lostAckStore struct {
	*store.Memory
	lose bool
}

func (s *lostAckStore) Commit(ctx context.Context, txid common.TxID) error {
	err := s.Memory.Commit(ctx, txid)
	if s.lose {
		s.lose = false
		return errors.New("context deadline exceeded")
	}
	return err
}

type fileEnv struct {
	path  string
	vault *flakyVault
	clock *fakeClock
}

func (fe *fileEnv) open(t *testing.T) (*Ledger, *store.FileTxLog) {
	t.Helper()
	fs, err := store.OpenFile(fe.path)
	require.NoError(t, err)
	txlog, err := fs.TxLog()
	require.NoError(t, err)
	l, err := Open(context.Background(), Options{Store: fs, Vault: fe.vault, TxLog: txlog, Clock: fe.clock.Now, Service: "test"})
	require.NoError(t, err)
	return l, txlog
}

// shipWithLostPayout lists and sells a physical item, then ships it while the
// vault drops the COMMIT of the seller's payout.
func shipWithLostPayout(t *testing.T, l *Ledger, fe *fileEnv) domain.Order {
	t.Helper()
	ctx := context.Background()
	it, err := l.ListItem(ctx, "seller", physical("lamp", 100, 1, 0))
	require.NoError(t, err)
	_, err = l.AddToCart(ctx, "buyer", it.ID, 1)
	require.NoError(t, err)
	rc, err := l.Checkout(ctx, "buyer", CheckoutInput{DeliverToAddress: "1 Main St", Tendered: 100})
	require.NoError(t, err)
	require.Len(t, rc.Orders, 1)

	fe.vault.failCommits = 1
	o, err := l.AdvanceOrder(ctx, "seller", rc.Orders[0].ID, "TRK", true, false)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, o.Status)
	assert.Equal(t, domain.Amount(0), fe.vault.Credited("seller"))
	return o
}

func TestVaultCommitLostIsPaidByRecover(t *testing.T) {
	fe := &fileEnv{
		path:  filepath.Join(t.TempDir(), "ledger.json"),
		vault: &flakyVault{MemoryVault: payout.NewMemoryVault()},
		clock: &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	l, txlog := fe.open(t)
	shipWithLostPayout(t, l, fe)

	open, err := txlog.ListByStatus(context.Background(), common.TxInDoubt)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, l.Recover(context.Background()))
	assert.Equal(t, domain.Amount(100), fe.vault.Credited("seller"))
	assert.Equal(t, domain.Amount(0), fe.vault.Balance())
	open, err = txlog.ListByStatus(context.Background(), common.TxInDoubt)
	require.NoError(t, err)
	assert.Empty(t, open)

	// a second pass pays nothing more
	require.NoError(t, l.Recover(context.Background()))
	assert.Equal(t, domain.Amount(100), fe.vault.Credited("seller"))
}

func TestVaultCommitLostIsPaidAfterRestart(t *testing.T) {
	fe := &fileEnv{
		path:  filepath.Join(t.TempDir(), "ledger.json"),
		vault: &flakyVault{MemoryVault: payout.NewMemoryVault()},
		clock: &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	l, _ := fe.open(t)
	o := shipWithLostPayout(t, l, fe)
	seq := l.Seq()

	reopened, _ := fe.open(t)
	assert.Equal(t, seq, reopened.Seq())
	got, _, err := reopened.ViewOrder("seller", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, got.Status)
	assert.Equal(t, domain.Amount(100), fe.vault.Credited("seller"))
	assert.Equal(t, domain.Amount(0), fe.vault.Balance())
}

func TestRunRecoveryPaysInBackground(t *testing.T) {
	fe := &fileEnv{
		path:  filepath.Join(t.TempDir(), "ledger.json"),
		vault: &flakyVault{MemoryVault: payout.NewMemoryVault()},
		clock: &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	l, _ := fe.open(t)
	shipWithLostPayout(t, l, fe)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.RunRecovery(ctx, 5*time.Millisecond) }()
	assert.Eventually(t, func() bool {
		return fe.vault.Credited("seller") == 100
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestLostStoreAckKeepsCommitAndPays(t *testing.T) {
	ctx := context.Background()
	s := &lostAckStore{Memory: store.NewMemory()}
	vault := payout.NewMemoryVault()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	l, err := Open(ctx, Options{Store: s, Vault: vault, Clock: clock.Now, Service: "test"})
	require.NoError(t, err)

	it, err := l.ListItem(ctx, "seller", digital("key", 20, 0))
	require.NoError(t, err)
	_, err = l.AddToCart(ctx, "buyer", it.ID, 1)
	require.NoError(t, err)
	s.lose = true
	_, err = l.Checkout(ctx, "buyer", CheckoutInput{Tendered: 20})
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(20), vault.Credited("seller"))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Seq, l.Seq())

	// the ledger still follows the store
	_, err = l.AddToCart(ctx, "buyer", it.ID, 1)
	require.NoError(t, err)
	_, err = l.Checkout(ctx, "buyer", CheckoutInput{Tendered: 20})
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(40), vault.Credited("seller"))
	assert.Equal(t, uint64(98), l.mustItem(t, it.ID).Inventory)
}

func (l *Ledger) mustItem(t *testing.T, id domain.Hash) domain.Item {
	t.Helper()
	it, err := l.ViewItem(id)
	require.NoError(t, err)
	return it
}
