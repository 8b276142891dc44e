// Package store makes ledger snapshots durable. Every driver takes part in
// the ledger's two-phase commit: Prepare stages a snapshot, Commit makes it
// the current one, Abort drops it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

// ParticipantName is the store's name in the commit log.
const ParticipantName = "store"

// Batch is one staged mutation: the full next snapshot and the events it
// emits.
type Batch struct {
	Snapshot *domain.Snapshot
	Events   []contracts.Event
}

type Store interface {
	// Load returns the last committed snapshot, or nil when there is none.
	Load(ctx context.Context) (*domain.Snapshot, error)
	Prepare(ctx context.Context, txid common.TxID, b Batch) error
	// Commit and Abort of an unknown txid are no-ops.
	Commit(ctx context.Context, txid common.TxID) error
	Abort(ctx context.Context, txid common.TxID) error
	Close() error
}

// ErrStale is returned by Prepare when the staged snapshot does not follow
// the committed one.
var ErrStale = errors.New("staged snapshot is stale")

func checkSeq(committed, staged uint64) error {
	if staged != committed+1 {
		return fmt.Errorf("%w: committed seq %d, staged seq %d", ErrStale, committed, staged)
	}
	return nil
}

// Participant adapts s to the coordinator. The PREPARE payload must be a
// Batch, so it only works in process.
func Participant(s Store) coordinator.ParticipantClient { return participant{s} }

type participant struct{ s Store }

func (p participant) Prepare(ctx context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	b, ok := req.Payload.(Batch)
	if !ok || b.Snapshot == nil {
		return protocol.PrepareResponse{}, fmt.Errorf("store prepare: unexpected payload %T", req.Payload)
	}
	if err := p.s.Prepare(ctx, req.TxID, b); err != nil {
		if errors.Is(err, ErrStale) {
			return protocol.PrepareResponse{Reason: err.Error()}, nil
		}
		return protocol.PrepareResponse{}, err
	}
	return protocol.PrepareResponse{VoteYes: true}, nil
}

func (p participant) Commit(ctx context.Context, req protocol.CommitRequest) error {
	return p.s.Commit(ctx, req.TxID)
}

func (p participant) Abort(ctx context.Context, req protocol.AbortRequest) error {
	return p.s.Abort(ctx, req.TxID)
}
