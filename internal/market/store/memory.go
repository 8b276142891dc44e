package store

import (
	"context"
	"sync"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
)

// Memory keeps the committed snapshot and every emitted event in process.
type Memory struct {
	mu      sync.Mutex
	snap    *domain.Snapshot
	pending map[common.TxID]Batch
	events  []contracts.Event
	// FailCommit, when set, is returned by the next Commit.
	FailCommit error
}

func NewMemory() *Memory {
	return &Memory{pending: map[common.TxID]Batch{}}
}

func (m *Memory) Load(context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *Memory) Prepare(_ context.Context, txid common.TxID, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq uint64
	if m.snap != nil {
		seq = m.snap.Seq
	}
	if err := checkSeq(seq, b.Snapshot.Seq); err != nil {
		return err
	}
	m.pending[txid] = b
	return nil
}

func (m *Memory) Commit(_ context.Context, txid common.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailCommit; err != nil {
		m.FailCommit = nil
		return err
	}
	b, ok := m.pending[txid]
	if !ok {
		return nil
	}
	delete(m.pending, txid)
	m.snap = b.Snapshot
	m.events = append(m.events, b.Events...)
	return nil
}

func (m *Memory) Abort(_ context.Context, txid common.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, txid)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns every committed event in commit order.
func (m *Memory) Events() []contracts.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]contracts.Event(nil), m.events...)
}
