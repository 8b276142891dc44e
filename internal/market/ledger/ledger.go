// Package ledger is the marketplace ledger: catalog, carts, checkout, the
// order lifecycle and ratings.
//
// Every mutation runs under one mutex against a private copy of the current
// snapshot. When it succeeds, the copy and the funds it moves are committed
// together through two-phase commit across the store and the vault, and only
// then does the copy become the current snapshot. A failed operation leaves
// no trace.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/internal/market/store"
	"github.com/nazeru/market-ledger-go/pkg/logging"
	"github.com/nazeru/market-ledger-go/pkg/metrics"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
)

// ReportWindow is how long after delivery a buyer may report a problem.
const ReportWindow = 24 * time.Hour

type Options struct {
	Store store.Store
	// Vault pays funds in and out. Defaults to a fresh payout.MemoryVault.
	Vault coordinator.ParticipantClient
	// TxLog defaults to an in-memory log.
	TxLog   coordinator.TxLogStore
	Clock   func() time.Time
	Metrics *metrics.LedgerMetrics
	Service string
	// CommitRetries is passed to the coordinator.
	CommitRetries int
	NewTxID       func() string
}

type Ledger struct {
	mu      sync.Mutex
	snap    *domain.Snapshot
	store   store.Store
	vault   coordinator.ParticipantClient
	engine  *coordinator.Engine
	now     func() time.Time
	metrics *metrics.LedgerMetrics
	service string
	newTxID func() string
	// resync is set when the store may hold a snapshot the ledger does not.
	resync bool
}

// Open loads the last committed snapshot and finishes any commit a previous
// process left in doubt.
func Open(ctx context.Context, opts Options) (*Ledger, error) {
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Vault == nil {
		opts.Vault = payout.NewMemoryVault()
	}
	if opts.TxLog == nil {
		opts.TxLog = coordinator.NewMemoryLog()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Service == "" {
		opts.Service = "market-ledger"
	}
	if opts.NewTxID == nil {
		opts.NewTxID = uuid.NewString
	}
	l := &Ledger{
		store:   opts.Store,
		vault:   opts.Vault,
		now:     opts.Clock,
		metrics: opts.Metrics,
		service: opts.Service,
		newTxID: opts.NewTxID,
		engine: &coordinator.Engine{
			Log:           opts.TxLog,
			Service:       opts.Service,
			CommitRetries: opts.CommitRetries,
			RetryBackoff:  50 * time.Millisecond,
		},
	}

	if err := l.engine.Recover(ctx, l.clients()); err != nil {
		logging.Log(logging.Fields{Service: l.service, Step: "recover", Status: "error", Message: err.Error()})
	}

	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		snap = domain.NewSnapshot(l.now().UTC())
	}
	l.snap = snap
	return l, nil
}

func (l *Ledger) clients() map[string]coordinator.ParticipantClient {
	return map[string]coordinator.ParticipantClient{
		store.ParticipantName:  store.Participant(l.store),
		payout.ParticipantName: l.vault,
	}
}

// Recover finishes commits left in doubt, such as a payout the vault did
// not acknowledge, and picks up any snapshot they make current.
func (l *Ledger) Recover(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settle(ctx)
}

// RunRecovery calls Recover every interval until ctx is done.
func (l *Ledger) RunRecovery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Recover(ctx); err != nil && ctx.Err() == nil {
				logging.Log(logging.Fields{Service: l.service, Step: "recover", Status: "error", Message: err.Error()})
			}
		}
	}
}

func (l *Ledger) settle(ctx context.Context) error {
	if err := l.engine.Recover(ctx, l.clients()); err != nil {
		return err
	}
	snap, err := l.store.Load(ctx)
	if err != nil {
		return err
	}
	l.resync = false
	if snap != nil && snap.Seq > l.snap.Seq {
		logging.Log(logging.Fields{Service: l.service, Step: "resync", Status: "reloaded", Message: fmt.Sprintf("seq %d -> %d", l.snap.Seq, snap.Seq)})
		l.snap = snap
	}
	return nil
}

// Seq is the number of mutations committed so far.
func (l *Ledger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap.Seq
}

func (l *Ledger) read(fn func(s *domain.Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.snap)
}
