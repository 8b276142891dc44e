package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nazeru/market-ledger-go/pkg/tx/common"
)

var ErrUnknownTx = errors.New("unknown transaction")

// MemoryLog is a TxLogStore that lives as long as the process.
type MemoryLog struct {
	mu    sync.Mutex
	order []common.TxID
	recs  map[common.TxID]TxRecord
	now   func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{recs: map[common.TxID]TxRecord{}, now: time.Now}
}

func (l *MemoryLog) Create(_ context.Context, txid common.TxID, ref string, participants []ParticipantRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.recs[txid]; ok {
		return errors.New("transaction already logged: " + string(txid))
	}
	l.recs[txid] = TxRecord{TxID: txid, Ref: ref, Status: common.TxStarted, Participants: participants, UpdatedAt: l.now()}
	l.order = append(l.order, txid)
	return nil
}

func (l *MemoryLog) SetStatus(_ context.Context, txid common.TxID, status common.TxStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[txid]
	if !ok {
		return ErrUnknownTx
	}
	rec.Status = status
	rec.UpdatedAt = l.now()
	l.recs[txid] = rec
	return nil
}

func (l *MemoryLog) GetStatus(_ context.Context, txid common.TxID) (common.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[txid]
	if !ok {
		return "", ErrUnknownTx
	}
	return rec.Status, nil
}

func (l *MemoryLog) ListByStatus(_ context.Context, status common.TxStatus) ([]TxRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []TxRecord
	for _, id := range l.order {
		if rec := l.recs[id]; rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}
