package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nazeru/market-ledger-go/pkg/logging"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

// ParticipantClient is one resource manager taking part in a commit.
// Commit and Abort must be idempotent, and Commit of an unknown txid is a
// no-op, so Recover can replay them.
type ParticipantClient interface {
	Prepare(ctx context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error)
	Commit(ctx context.Context, req protocol.CommitRequest) error
	Abort(ctx context.Context, req protocol.AbortRequest) error
}

type Participant struct {
	Ref    ParticipantRef
	Client ParticipantClient
	Step   common.StepName
	// PayloadBuilder builds the PREPARE payload for this participant.
	PayloadBuilder func() any
}

// ErrVotedNo wraps the reason a participant gave for refusing to prepare.
var ErrVotedNo = errors.New("participant voted no")

// CoordinatorName stands in for the participant when the coordinator's own
// log write fails.
const CoordinatorName = "coordinator"

// ParticipantError reports which participant failed in which phase.
// InDoubt is set when the commit decision was logged but a participant did
// not acknowledge it; Committed counts the participants that did.
type ParticipantError struct {
	Participant string
	Phase       string
	InDoubt     bool
	Committed   int
	Err         error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("2pc %s %s: %v", e.Participant, e.Phase, e.Err)
}

func (e *ParticipantError) Unwrap() error { return e.Err }

type Engine struct {
	Log     TxLogStore
	Service string
	// CommitRetries is how many extra times a failed COMMIT is re-sent before
	// the transaction is left in doubt.
	CommitRetries int
	RetryBackoff  time.Duration
}

func (e *Engine) Execute(ctx context.Context, txid common.TxID, ref string, correlationID common.CorrelationID, parts []Participant) error {
	start := time.Now()
	if err := e.Log.Create(ctx, txid, ref, mapRefs(parts)); err != nil {
		return err
	}
	_ = e.Log.SetStatus(ctx, txid, common.TxPreparing)

	// Phase 1: PREPARE
	prepared := make([]Participant, 0, len(parts))
	for _, p := range parts {
		var payload any
		if p.PayloadBuilder != nil {
			payload = p.PayloadBuilder()
		}
		resp, err := p.Client.Prepare(ctx, protocol.PrepareRequest{
			TxID:          txid,
			Ref:           ref,
			Step:          p.Step,
			CorrelationID: correlationID,
			Payload:       payload,
		})
		if err == nil && !resp.VoteYes {
			err = fmt.Errorf("%w: %s", ErrVotedNo, resp.Reason)
		}
		if err != nil {
			// the refusing participant may hold partial state too
			e.abort(ctx, txid, append(prepared, p))
			e.log(txid, ref, string(p.Step), "aborted", start, err.Error())
			return &ParticipantError{Participant: p.Ref.Name, Phase: "prepare", Err: err}
		}
		prepared = append(prepared, p)
	}

	// Phase 2: COMMIT. The decision is logged first; from then on the caller
	// giving up must not stop the participants.
	ctx = context.WithoutCancel(ctx)
	if err := e.Log.SetStatus(ctx, txid, common.TxCommitting); err != nil {
		e.abort(ctx, txid, prepared)
		e.log(txid, ref, "decide", "aborted", start, err.Error())
		return &ParticipantError{Participant: CoordinatorName, Phase: "decide", Err: err}
	}
	for i, p := range prepared {
		if err := e.commit(ctx, txid, p); err != nil {
			_ = e.Log.SetStatus(ctx, txid, common.TxInDoubt)
			e.log(txid, ref, string(p.Step), "in_doubt", start, err.Error())
			return &ParticipantError{Participant: p.Ref.Name, Phase: "commit", InDoubt: true, Committed: i, Err: err}
		}
	}
	_ = e.Log.SetStatus(ctx, txid, common.TxCommitted)
	e.log(txid, ref, "", "committed", start, "")
	return nil
}

// Abort rolls back a transaction the log shows as in doubt whose participants
// are known not to have committed. Callers must have checked that.
func (e *Engine) Abort(ctx context.Context, txid common.TxID, parts []Participant) {
	e.abort(ctx, txid, parts)
	e.log(txid, "", "abort", "aborted", time.Now(), "")
}

// Recover finishes every transaction a previous run left open. Those logged
// as committing or in doubt are committed on every participant; those that
// never reached the decision are aborted, releasing what they hold.
// clients maps participant names to clients. Recover must not run
// concurrently with Execute.
func (e *Engine) Recover(ctx context.Context, clients map[string]ParticipantClient) error {
	var errs []error
	for _, st := range []common.TxStatus{common.TxStarted, common.TxPreparing, common.TxAborting} {
		recs, err := e.Log.ListByStatus(ctx, st)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if e.finish(ctx, rec, clients, false, &errs) {
				_ = e.Log.SetStatus(ctx, rec.TxID, common.TxAborted)
				e.log(rec.TxID, rec.Ref, "recover", "aborted", time.Now(), "")
			}
		}
	}
	for _, st := range []common.TxStatus{common.TxCommitting, common.TxInDoubt} {
		recs, err := e.Log.ListByStatus(ctx, st)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if e.finish(ctx, rec, clients, true, &errs) {
				_ = e.Log.SetStatus(ctx, rec.TxID, common.TxCommitted)
				e.log(rec.TxID, rec.Ref, "recover", "committed", time.Now(), "")
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) finish(ctx context.Context, rec TxRecord, clients map[string]ParticipantClient, commit bool, errs *[]error) bool {
	done := true
	for _, ref := range rec.Participants {
		c, ok := clients[ref.Name]
		if !ok {
			done = false
			*errs = append(*errs, fmt.Errorf("recover %s: no client for %s", rec.TxID, ref.Name))
			continue
		}
		var err error
		if commit {
			err = c.Commit(ctx, protocol.CommitRequest{TxID: rec.TxID})
		} else {
			err = c.Abort(ctx, protocol.AbortRequest{TxID: rec.TxID})
		}
		if err != nil {
			done = false
			*errs = append(*errs, fmt.Errorf("recover %s: %s: %w", rec.TxID, ref.Name, err))
		}
	}
	return done
}

func (e *Engine) commit(ctx context.Context, txid common.TxID, p Participant) error {
	var err error
	for attempt := 0; attempt <= e.CommitRetries; attempt++ {
		if attempt > 0 && e.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(e.RetryBackoff * time.Duration(attempt)):
			}
		}
		if err = p.Client.Commit(ctx, protocol.CommitRequest{TxID: txid}); err == nil {
			return nil
		}
	}
	return err
}

func (e *Engine) abort(ctx context.Context, txid common.TxID, parts []Participant) {
	// aborts run even if the caller gave up
	ctx = context.WithoutCancel(ctx)
	_ = e.Log.SetStatus(ctx, txid, common.TxAborting)
	for i := len(parts) - 1; i >= 0; i-- {
		_ = parts[i].Client.Abort(ctx, protocol.AbortRequest{TxID: txid})
	}
	_ = e.Log.SetStatus(ctx, txid, common.TxAborted)
}

func (e *Engine) log(txid common.TxID, ref, step, status string, start time.Time, msg string) {
	logging.Log(logging.Fields{
		Service:    e.Service,
		TxID:       string(txid),
		Ref:        ref,
		Step:       step,
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
		Message:    msg,
	})
}

func mapRefs(parts []Participant) []ParticipantRef {
	out := make([]ParticipantRef, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.Ref)
	}
	return out
}
