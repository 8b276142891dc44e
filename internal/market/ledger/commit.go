package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/internal/market/store"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
	"github.com/nazeru/market-ledger-go/pkg/logging"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
)

// stage is one operation's working copy of the ledger.
type stage struct {
	s      *domain.Snapshot
	now    time.Time
	op     string
	ref    string
	batch  payout.Batch
	events []contracts.Event
	moves  [][2]domain.OrderStatus
	// skip makes apply return without committing anything.
	skip bool
}

// apply runs fn against a copy of the snapshot and commits the copy if fn
// succeeds. fn must report every failure before it has any effect outside
// the stage.
func (l *Ledger) apply(ctx context.Context, op string, fn func(st *stage) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.resync {
		if err := l.settle(ctx); err != nil {
			l.metrics.Op(op, domain.Code(domain.ErrPersistFailed))
			return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistFailed, err)
		}
	}
	start := time.Now()
	st := &stage{s: l.snap.Clone(), now: l.now().UTC(), op: op, ref: op}
	if err := fn(st); err != nil {
		l.metrics.Op(op, domain.Code(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if st.skip {
		l.metrics.Op(op, "noop")
		return nil
	}
	st.s.Seq = l.snap.Seq + 1
	st.s.UpdatedAt = st.now

	txid, err := l.commit(ctx, st)
	l.metrics.Commit(time.Since(start))
	if err != nil {
		l.metrics.Op(op, domain.Code(err))
		logging.Log(logging.Fields{Service: l.service, TxID: string(txid), Ref: st.ref, Step: op, Status: "failed", Message: err.Error()})
		return fmt.Errorf("%s: %w", op, err)
	}
	l.snap = st.s

	l.metrics.Op(op, "ok")
	for _, t := range st.batch.Transfers {
		l.metrics.Payout(string(t.Reason), uint64(t.Amount))
	}
	for _, m := range st.moves {
		l.metrics.Transition(m[0].String(), m[1].String())
	}
	logging.Log(logging.Fields{
		Service:    l.service,
		TxID:       string(txid),
		Ref:        st.ref,
		Step:       op,
		Status:     "committed",
		Amount:     uint64(payout.Sum(st.batch.Transfers)),
		DurationMS: time.Since(start).Milliseconds(),
	})
	return nil
}

func (l *Ledger) commit(ctx context.Context, st *stage) (common.TxID, error) {
	txid := common.TxID(l.newTxID())
	for i := range st.events {
		st.events[i].EventID = fmt.Sprintf("%s-%d", txid, i)
		st.events[i].TxID = string(txid)
	}
	parts := []coordinator.Participant{{
		Ref:    coordinator.ParticipantRef{Name: store.ParticipantName},
		Client: store.Participant(l.store),
		Step:   common.StepPersistLedger,
		PayloadBuilder: func() any {
			return store.Batch{Snapshot: st.s, Events: st.events}
		},
	}}
	if !st.batch.Empty() {
		parts = append(parts, coordinator.Participant{
			Ref:            coordinator.ParticipantRef{Name: payout.ParticipantName},
			Client:         l.vault,
			Step:           common.StepReleasePayout,
			PayloadBuilder: func() any { return st.batch.Payload() },
		})
	}

	err := l.engine.Execute(ctx, txid, st.ref, common.CorrelationID(st.op), parts)
	var perr *coordinator.ParticipantError
	switch {
	case err == nil:
		return txid, nil
	case errors.As(err, &perr) && perr.InDoubt && perr.Committed == 0:
		return txid, l.settleStore(ctx, txid, st, parts, perr)
	case errors.As(err, &perr) && perr.InDoubt:
		// The snapshot is durable and the vault holds the reserved funds;
		// the recovery loop delivers the commit.
		logging.Log(logging.Fields{Service: l.service, TxID: string(txid), Ref: st.ref, Step: st.op, Status: "in_doubt", Message: err.Error()})
		return txid, nil
	case errors.As(err, &perr) && perr.Participant == payout.ParticipantName:
		return txid, fmt.Errorf("%w: %v", domain.ErrPayoutFailed, perr.Err)
	case errors.As(err, &perr) && perr.Participant == store.ParticipantName && perr.Phase == "prepare":
		// another writer may have moved the store on
		l.resync = true
		return txid, fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
	default:
		return txid, fmt.Errorf("%w: %v", domain.ErrPersistFailed, err)
	}
}

// settleStore decides a commit the store did not acknowledge. The store may
// have applied it anyway, so its own state decides: a snapshot that landed
// stands and the rest of the commit is finished, otherwise everything is
// rolled back.
func (l *Ledger) settleStore(ctx context.Context, txid common.TxID, st *stage, parts []coordinator.Participant, cause error) error {
	ctx = context.WithoutCancel(ctx)
	landed, known := l.storeHas(ctx, st.s.Seq)
	if known && !landed {
		// Abort waits behind a commit still in flight, so look again after it.
		if err := l.store.Abort(ctx, txid); err != nil {
			known = false
		} else {
			landed, known = l.storeHas(ctx, st.s.Seq)
		}
	}
	switch {
	case !known:
		// Left in doubt: recovery commits whatever is still prepared and the
		// ledger reloads the store before the next operation.
		l.resync = true
		logging.Log(logging.Fields{Service: l.service, TxID: string(txid), Ref: st.ref, Step: st.op, Status: "unknown", Message: cause.Error()})
		return fmt.Errorf("%w: commit outcome unknown: %v", domain.ErrPersistFailed, cause)
	case !landed:
		l.engine.Abort(ctx, txid, parts)
		return fmt.Errorf("%w: %v", domain.ErrPersistFailed, cause)
	}
	if err := l.engine.Recover(ctx, l.clients()); err != nil {
		logging.Log(logging.Fields{Service: l.service, TxID: string(txid), Ref: st.ref, Step: "recover", Status: "error", Message: err.Error()})
	}
	return nil
}

// storeHas reports whether the store's committed snapshot is at seq or later.
// known is false when the store cannot be read.
func (l *Ledger) storeHas(ctx context.Context, seq uint64) (landed, known bool) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return false, false
	}
	return snap != nil && snap.Seq >= seq, true
}

func (st *stage) emit(typ string, order domain.Hash, account domain.AccountID, payload map[string]any) {
	evt := contracts.Event{CreatedAt: st.now, Type: typ, Account: string(account), Payload: payload}
	if !order.IsZero() {
		evt.OrderID = order.String()
	}
	st.events = append(st.events, evt)
}

func (st *stage) pay(ts ...payout.Transfer) { st.batch.Add(ts...) }

// deposit records funds the caller sends with the operation.
func (st *stage) deposit(from domain.AccountID, amt domain.Amount) {
	st.batch.From = from
	st.batch.Deposit = st.batch.Deposit.AddSat(amt)
}
