package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
)

// File keeps the snapshot as one JSON document. Prepare writes and syncs
// <path>.<txid>.pending next to it and Commit renames that over the current
// file, so a crash leaves either the old or the new snapshot.
type File struct {
	mu      sync.Mutex
	path    string
	seq     uint64
	pending map[common.TxID]uint64
}

func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f := &File{path: path, pending: map[common.TxID]uint64{}}
	snap, err := f.read()
	if err != nil {
		return nil, err
	}
	if snap != nil {
		f.seq = snap.Seq
	}
	return f, nil
}

func (f *File) Load(context.Context) (*domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *File) read() (*domain.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	snap.Normalize()
	return &snap, nil
}

func (f *File) pendingPath(txid common.TxID) string {
	return fmt.Sprintf("%s.%s.pending", f.path, strings.ReplaceAll(string(txid), string(filepath.Separator), "_"))
}

func (f *File) Prepare(ctx context.Context, txid common.TxID, b Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := checkSeq(f.seq, b.Snapshot.Seq); err != nil {
		return err
	}
	data, err := json.MarshalIndent(b.Snapshot, "", "  ")
	if err != nil {
		return err
	}
	file, err := os.OpenFile(f.pendingPath(txid), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
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
	f.pending[txid] = b.Snapshot.Seq
	return nil
}

func (f *File) Commit(_ context.Context, txid common.TxID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.pendingPath(txid)
	if _, err := os.Stat(pending); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.Rename(pending, f.path); err != nil {
		return err
	}
	seq, ok := f.pending[txid]
	delete(f.pending, txid)
	if !ok {
		// left over from before a restart
		snap, err := f.read()
		if err != nil {
			return err
		}
		seq = snap.Seq
	}
	f.seq = seq
	return nil
}

func (f *File) Abort(_ context.Context, txid common.TxID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, txid)
	err := os.Remove(f.pendingPath(txid))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *File) Close() error { return nil }
