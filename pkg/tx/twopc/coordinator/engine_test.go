package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

type fakeParticipant struct {
	name       string
	voteNo     bool
	prepareErr error
	commitErrs int // fail this many commits before succeeding
	onPrepare  func()
	calls      *[]string
	payload    any
}

func (f *fakeParticipant) Prepare(_ context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	*f.calls = append(*f.calls, f.name+":prepare")
	f.payload = req.Payload
	if f.onPrepare != nil {
		f.onPrepare()
	}
	if f.prepareErr != nil {
		return protocol.PrepareResponse{}, f.prepareErr
	}
	if f.voteNo {
		return protocol.PrepareResponse{Reason: "no funds"}, nil
	}
	return protocol.PrepareResponse{VoteYes: true}, nil
}

func (f *fakeParticipant) Commit(context.Context, protocol.CommitRequest) error {
	*f.calls = append(*f.calls, f.name+":commit")
	if f.commitErrs > 0 {
		f.commitErrs--
		return errors.New("unreachable")
	}
	return nil
}

func (f *fakeParticipant) Abort(context.Context, protocol.AbortRequest) error {
	*f.calls = append(*f.calls, f.name+":abort")
	return nil
}

func parts(ps ...*fakeParticipant) []Participant {
	out := make([]Participant, 0, len(ps))
	for _, p := range ps {
		p := p
		out = append(out, Participant{
			Ref:            ParticipantRef{Name: p.name},
			Client:         p,
			Step:           common.StepName(p.name),
			PayloadBuilder: func() any { return p.name + "-payload" },
		})
	}
	return out
}

func TestExecuteCommitsAll(t *testing.T) {
	var calls []string
	a := &fakeParticipant{name: "store", calls: &calls}
	b := &fakeParticipant{name: "vault", calls: &calls}
	log := NewMemoryLog()
	e := &Engine{Log: log, Service: "test"}

	require.NoError(t, e.Execute(context.Background(), "tx1", "ref", "c", parts(a, b)))

	assert.Equal(t, []string{"store:prepare", "vault:prepare", "store:commit", "vault:commit"}, calls)
	assert.Equal(t, "vault-payload", b.payload)
	st, err := log.GetStatus(context.Background(), "tx1")
	require.NoError(t, err)
	assert.Equal(t, common.TxCommitted, st)
}

func TestExecuteAbortsOnNoVote(t *testing.T) {
	var calls []string
	a := &fakeParticipant{name: "store", calls: &calls}
	b := &fakeParticipant{name: "vault", voteNo: true, calls: &calls}
	log := NewMemoryLog()
	e := &Engine{Log: log}

	err := e.Execute(context.Background(), "tx1", "ref", "c", parts(a, b))

	var perr *ParticipantError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "vault", perr.Participant)
	assert.Equal(t, "prepare", perr.Phase)
	assert.ErrorIs(t, err, ErrVotedNo)
	assert.Contains(t, err.Error(), "no funds")
	assert.Equal(t, []string{"store:prepare", "vault:prepare", "vault:abort", "store:abort"}, calls)
	st, _ := log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxAborted, st)
}

func TestExecuteFirstCommitFailureIsInDoubt(t *testing.T) {
	var calls []string
	a := &fakeParticipant{name: "store", commitErrs: 1, calls: &calls}
	b := &fakeParticipant{name: "vault", calls: &calls}
	log := NewMemoryLog()
	e := &Engine{Log: log}

	err := e.Execute(context.Background(), "tx1", "ref", "c", parts(a, b))

	// the store may have committed without answering, so nothing is undone
	var perr *ParticipantError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "commit", perr.Phase)
	assert.True(t, perr.InDoubt)
	assert.Zero(t, perr.Committed)
	assert.NotContains(t, calls, "vault:commit")
	assert.NotContains(t, calls, "vault:abort")
	st, _ := log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxInDoubt, st)

	e.Abort(context.Background(), "tx1", parts(a, b))
	assert.Equal(t, []string{"vault:abort", "store:abort"}, calls[len(calls)-2:])
	st, _ = log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxAborted, st)
}

// decisionLog refuses to record the commit decision.
type decisionLog struct {
	*MemoryLog
}

func (l decisionLog) SetStatus(ctx context.Context, txid common.TxID, status common.TxStatus) error {
	if status == common.TxCommitting {
		return errors.New("log unavailable")
	}
	return l.MemoryLog.SetStatus(ctx, txid, status)
}

func TestExecuteAbortsWhenDecisionIsNotLogged(t *testing.T) {
	var calls []string
	a := &fakeParticipant{name: "store", calls: &calls}
	b := &fakeParticipant{name: "vault", calls: &calls}
	log := decisionLog{NewMemoryLog()}
	e := &Engine{Log: log}

	err := e.Execute(context.Background(), "tx1", "ref", "c", parts(a, b))

	var perr *ParticipantError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CoordinatorName, perr.Participant)
	assert.False(t, perr.InDoubt)
	assert.Equal(t, []string{"store:prepare", "vault:prepare", "vault:abort", "store:abort"}, calls)
	st, _ := log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxAborted, st)
}

func TestExecuteCommitOutlivesCanceledCaller(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeParticipant{name: "store", commitErrs: 1, calls: &calls}
	b := &fakeParticipant{name: "vault", calls: &calls, onPrepare: cancel}
	e := &Engine{Log: NewMemoryLog(), CommitRetries: 1, RetryBackoff: time.Millisecond}

	require.NoError(t, e.Execute(ctx, "tx1", "ref", "c", parts(a, b)))
	assert.Equal(t, 2, countOf(calls, "store:commit"))
	assert.Equal(t, 1, countOf(calls, "vault:commit"))
}

func TestExecuteRetriesCommit(t *testing.T) {
	var calls []string
	a := &fakeParticipant{name: "store", calls: &calls}
	b := &fakeParticipant{name: "vault", commitErrs: 2, calls: &calls}
	e := &Engine{Log: NewMemoryLog(), CommitRetries: 2}

	require.NoError(t, e.Execute(context.Background(), "tx1", "ref", "c", parts(a, b)))
	assert.Equal(t, 3, countOf(calls, "vault:commit"))
}

func TestExecuteLeavesLaterCommitFailureInDoubtAndRecovers(t *testing.T) {
	var calls []string
	a := &fakeParticipant{name: "store", calls: &calls}
	b := &fakeParticipant{name: "vault", commitErrs: 1, calls: &calls}
	log := NewMemoryLog()
	e := &Engine{Log: log}

	err := e.Execute(context.Background(), "tx1", "ref", "c", parts(a, b))
	var perr *ParticipantError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.InDoubt)
	assert.NotContains(t, calls, "store:abort")

	st, _ := log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxInDoubt, st)

	require.NoError(t, e.Recover(context.Background(), map[string]ParticipantClient{"store": a, "vault": b}))
	st, _ = log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxCommitted, st)
}

func TestRecoverReportsMissingClient(t *testing.T) {
	var calls []string
	b := &fakeParticipant{name: "vault", commitErrs: 1, calls: &calls}
	a := &fakeParticipant{name: "store", calls: &calls}
	log := NewMemoryLog()
	e := &Engine{Log: log}
	_ = e.Execute(context.Background(), "tx1", "ref", "c", parts(a, b))

	err := e.Recover(context.Background(), map[string]ParticipantClient{"store": a})
	assert.Error(t, err)
	st, _ := log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxInDoubt, st)
}

func TestRecoverAbortsUndecidedTransactions(t *testing.T) {
	var calls []string
	a := &fakeParticipant{name: "store", calls: &calls}
	b := &fakeParticipant{name: "vault", calls: &calls}
	log := NewMemoryLog()
	ctx := context.Background()
	refs := []ParticipantRef{{Name: "store"}, {Name: "vault"}}
	// a run that stopped between PREPARE and the decision
	require.NoError(t, log.Create(ctx, "tx1", "ref", refs))
	require.NoError(t, log.SetStatus(ctx, "tx1", common.TxPreparing))
	require.NoError(t, log.Create(ctx, "tx2", "ref", refs))
	require.NoError(t, log.SetStatus(ctx, "tx2", common.TxCommitting))
	e := &Engine{Log: log}

	require.NoError(t, e.Recover(ctx, map[string]ParticipantClient{"store": a, "vault": b}))

	assert.Equal(t, []string{"store:abort", "vault:abort", "store:commit", "vault:commit"}, calls)
	st, _ := log.GetStatus(ctx, "tx1")
	assert.Equal(t, common.TxAborted, st)
	st, _ = log.GetStatus(ctx, "tx2")
	assert.Equal(t, common.TxCommitted, st)
}

func countOf(xs []string, v string) int {
	n := 0
	for _, x := range xs {
		if x == v {
			n++
		}
	}
	return n
}
