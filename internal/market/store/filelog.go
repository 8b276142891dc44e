package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
)

// keepFinished is how many committed or aborted records FileTxLog keeps.
const keepFinished = 256

// FileTxLog is the coordinator log as one JSON document. Every change is
// written to a temp file, synced and renamed over the log.
type FileTxLog struct {
	mu   sync.Mutex
	path string
	recs []coordinator.TxRecord
}

func OpenFileTxLog(path string) (*FileTxLog, error) {
	l := &FileTxLog{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &l.recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return l, nil
}

// TxLog opens the coordinator log kept next to the snapshot.
func (f *File) TxLog() (*FileTxLog, error) { return OpenFileTxLog(f.path + ".txlog") }

func (l *FileTxLog) Create(_ context.Context, txid common.TxID, ref string, participants []coordinator.ParticipantRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.find(txid) >= 0 {
		return fmt.Errorf("transaction already logged: %s", txid)
	}
	l.recs = append(l.recs, coordinator.TxRecord{
		TxID:         txid,
		Ref:          ref,
		Status:       common.TxStarted,
		Participants: participants,
		UpdatedAt:    time.Now().UTC(),
	})
	if err := l.write(); err != nil {
		l.recs = l.recs[:len(l.recs)-1]
		return err
	}
	return nil
}

func (l *FileTxLog) SetStatus(_ context.Context, txid common.TxID, status common.TxStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.find(txid)
	if i < 0 {
		return coordinator.ErrUnknownTx
	}
	prev := l.recs[i]
	l.recs[i].Status = status
	l.recs[i].UpdatedAt = time.Now().UTC()
	if err := l.write(); err != nil {
		l.recs[i] = prev
		return err
	}
	if status == common.TxCommitted || status == common.TxAborted {
		l.prune()
	}
	return nil
}

func (l *FileTxLog) GetStatus(_ context.Context, txid common.TxID) (common.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.find(txid)
	if i < 0 {
		return "", coordinator.ErrUnknownTx
	}
	return l.recs[i].Status, nil
}

func (l *FileTxLog) ListByStatus(_ context.Context, status common.TxStatus) ([]coordinator.TxRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []coordinator.TxRecord
	for _, rec := range l.recs {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *FileTxLog) find(txid common.TxID) int {
	for i := len(l.recs) - 1; i >= 0; i-- {
		if l.recs[i].TxID == txid {
			return i
		}
	}
	return -1
}

// prune drops the oldest finished records past keepFinished. The next write
// persists the shorter list.
func (l *FileTxLog) prune() {
	finished := 0
	for _, rec := range l.recs {
		if rec.Status == common.TxCommitted || rec.Status == common.TxAborted {
			finished++
		}
	}
	drop := finished - keepFinished
	if drop <= 0 {
		return
	}
	kept := l.recs[:0]
	for _, rec := range l.recs {
		if drop > 0 && (rec.Status == common.TxCommitted || rec.Status == common.TxAborted) {
			drop--
			continue
		}
		kept = append(kept, rec)
	}
	l.recs = kept
}

func (l *FileTxLog) write() error {
	data, err := json.Marshal(l.recs)
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
