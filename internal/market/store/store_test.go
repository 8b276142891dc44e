package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

func snapshotAt(seq uint64, title string) *domain.Snapshot {
	s := domain.NewSnapshot(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	s.Seq = seq
	id := domain.DeriveID(title)
	s.Items[id] = domain.Item{ID: id, Title: title, Kind: domain.KindProduct, Price: 100}
	return s
}

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)
	sq, err := OpenSQLite(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"memory": NewMemory(), "file": f, "sqlite": sq}
}

func TestStoresPrepareCommitAbort(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)

			evt := contracts.Event{EventID: "e1", Type: contracts.EventItemListed, Account: "seller"}
			require.NoError(t, s.Prepare(ctx, "tx-1", Batch{Snapshot: snapshotAt(1, "lamp"), Events: []contracts.Event{evt}}))

			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got, "prepared snapshot must not be visible")

			require.NoError(t, s.Commit(ctx, "tx-1"))
			got, err = s.Load(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, uint64(1), got.Seq)
			assert.Equal(t, "lamp", got.Items[domain.DeriveID("lamp")].Title)

			// replayed commit
			require.NoError(t, s.Commit(ctx, "tx-1"))

			require.NoError(t, s.Prepare(ctx, "tx-2", Batch{Snapshot: snapshotAt(2, "desk")}))
			require.NoError(t, s.Abort(ctx, "tx-2"))
			require.NoError(t, s.Commit(ctx, "tx-2"))
			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), got.Seq)
			assert.NotContains(t, got.Items, domain.DeriveID("desk"))
		})
	}
}

func TestStoresRejectStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Prepare(ctx, "tx-1", Batch{Snapshot: snapshotAt(1, "a")}))
			require.NoError(t, s.Commit(ctx, "tx-1"))

			err := s.Prepare(ctx, "tx-2", Batch{Snapshot: snapshotAt(1, "b")})
			assert.ErrorIs(t, err, ErrStale)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.json")
	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Prepare(ctx, "tx-1", Batch{Snapshot: snapshotAt(1, "lamp")}))
	require.NoError(t, f.Commit(ctx, "tx-1"))

	// a prepared but uncommitted snapshot from before a crash
	require.NoError(t, f.Prepare(ctx, "tx-2", Batch{Snapshot: snapshotAt(2, "desk")}))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Seq)

	require.NoError(t, reopened.Commit(ctx, "tx-2"))
	got, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)
	require.NoError(t, reopened.Prepare(ctx, "tx-3", Batch{Snapshot: snapshotAt(3, "chair")}))

	_, err = os.Stat(path + ".tx-2.pending")
	assert.True(t, os.IsNotExist(err))
}

func TestMemoryStoreKeepsEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	evt := contracts.Event{EventID: "e1", Type: contracts.EventOrderPlaced}
	require.NoError(t, m.Prepare(ctx, "tx-1", Batch{Snapshot: snapshotAt(1, "a"), Events: []contracts.Event{evt}}))
	assert.Empty(t, m.Events())
	require.NoError(t, m.Commit(ctx, "tx-1"))
	assert.Equal(t, []contracts.Event{evt}, m.Events())
}

func TestSQLiteKeepsEvents(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	evt := contracts.Event{EventID: "e1", Type: contracts.EventOrderPlaced, OrderID: "o1"}
	require.NoError(t, s.Prepare(ctx, "tx-1", Batch{Snapshot: snapshotAt(1, "a"), Events: []contracts.Event{evt}}))
	require.NoError(t, s.Commit(ctx, "tx-1"))

	got, err := s.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].OrderID)
}

func TestSQLiteTxLog(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()
	l := s.TxLog()

	refs := []coordinator.ParticipantRef{{Name: ParticipantName}, {Name: "vault"}}
	require.NoError(t, l.Create(ctx, "tx-1", "checkout", refs))
	require.NoError(t, l.Create(ctx, "tx-2", "ship", refs))
	require.NoError(t, l.SetStatus(ctx, "tx-2", common.TxInDoubt))

	st, err := l.GetStatus(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, common.TxStarted, st)

	recs, err := l.ListByStatus(ctx, common.TxInDoubt)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, common.TxID("tx-2"), recs[0].TxID)
	assert.Equal(t, refs, recs[0].Participants)

	assert.ErrorIs(t, l.SetStatus(ctx, "nope", common.TxAborted), coordinator.ErrUnknownTx)
}

func TestFileTxLogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	f, err := OpenFile(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	l, err := f.TxLog()
	require.NoError(t, err)

	refs := []coordinator.ParticipantRef{{Name: ParticipantName}, {Name: "vault"}}
	require.NoError(t, l.Create(ctx, "tx-1", "checkout", refs))
	require.NoError(t, l.SetStatus(ctx, "tx-1", common.TxCommitted))
	require.NoError(t, l.Create(ctx, "tx-2", "ship", refs))
	require.NoError(t, l.SetStatus(ctx, "tx-2", common.TxInDoubt))
	assert.Error(t, l.Create(ctx, "tx-2", "ship", refs))

	again, err := f.TxLog()
	require.NoError(t, err)
	recs, err := again.ListByStatus(ctx, common.TxInDoubt)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, common.TxID("tx-2"), recs[0].TxID)
	assert.Equal(t, refs, recs[0].Participants)
	st, err := again.GetStatus(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, common.TxCommitted, st)
	assert.ErrorIs(t, again.SetStatus(ctx, "nope", common.TxAborted), coordinator.ErrUnknownTx)
}

func TestFileTxLogKeepsOpenRecordsWhenPruning(t *testing.T) {
	ctx := context.Background()
	l, err := OpenFileTxLog(filepath.Join(t.TempDir(), "ledger.txlog"))
	require.NoError(t, err)
	require.NoError(t, l.Create(ctx, "open", "ship", nil))
	require.NoError(t, l.SetStatus(ctx, "open", common.TxInDoubt))
	for i := 0; i < keepFinished+10; i++ {
		txid := common.TxID(fmt.Sprintf("tx-%d", i))
		require.NoError(t, l.Create(ctx, txid, "checkout", nil))
		require.NoError(t, l.SetStatus(ctx, txid, common.TxCommitted))
	}

	recs, err := l.ListByStatus(ctx, common.TxCommitted)
	require.NoError(t, err)
	assert.Len(t, recs, keepFinished)
	assert.Equal(t, common.TxID("tx-10"), recs[0].TxID)
	st, err := l.GetStatus(ctx, "open")
	require.NoError(t, err)
	assert.Equal(t, common.TxInDoubt, st)
}

func TestParticipantVotesNoOnStale(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := Participant(m)

	resp, err := p.Prepare(ctx, protocol.PrepareRequest{TxID: "tx-1", Payload: Batch{Snapshot: snapshotAt(5, "a")}})
	require.NoError(t, err)
	assert.False(t, resp.VoteYes)

	_, err = p.Prepare(ctx, protocol.PrepareRequest{TxID: "tx-2", Payload: "nope"})
	assert.Error(t, err)

	m.FailCommit = errors.New("disk gone")
	resp, err = p.Prepare(ctx, protocol.PrepareRequest{TxID: "tx-3", Payload: Batch{Snapshot: snapshotAt(1, "a")}})
	require.NoError(t, err)
	require.True(t, resp.VoteYes)
	assert.Error(t, p.Commit(ctx, protocol.CommitRequest{TxID: "tx-3"}))
}
