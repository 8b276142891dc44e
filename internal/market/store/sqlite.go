package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	id         INTEGER PRIMARY KEY,
	seq        INTEGER NOT NULL,
	payload    BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_prepared (
	txid       TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	snapshot   BLOB,
	events     BLOB,
	status     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id   TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS twopc_tx_log (
	txid         TEXT PRIMARY KEY,
	ref          TEXT NOT NULL,
	status       TEXT NOT NULL,
	participants BLOB NOT NULL,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);
`

// SQLite is a single file store for local runs.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Load(ctx context.Context) (*domain.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM ledger_snapshots WHERE id=1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	snap.Normalize()
	return &snap, nil
}

func (s *SQLite) Prepare(ctx context.Context, txid common.TxID, b Batch) error {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM ledger_snapshots WHERE id=1`).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err := checkSeq(uint64(seq), b.Snapshot.Seq); err != nil {
		return err
	}
	snap, err := json.Marshal(b.Snapshot)
	if err != nil {
		return err
	}
	events, err := json.Marshal(b.Events)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO ledger_prepared(txid, seq, snapshot, events, status, updated_at)
		VALUES (?, ?, ?, ?, 'PREPARED', ?) ON CONFLICT (txid) DO NOTHING`,
		string(txid), int64(b.Snapshot.Seq), snap, events, time.Now().UTC())
	return err
}

func (s *SQLite) Commit(ctx context.Context, txid common.TxID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq            int64
		snap, evtsJSON []byte
	)
	err = tx.QueryRowContext(ctx, `SELECT seq, snapshot, events FROM ledger_prepared WHERE txid=? AND status='PREPARED'`,
		string(txid)).Scan(&seq, &snap, &evtsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `INSERT INTO ledger_snapshots(id, seq, payload, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET seq=excluded.seq, payload=excluded.payload, updated_at=excluded.updated_at`, seq, snap, now)
	if err != nil {
		return err
	}

	var events []contracts.Event
	if err := json.Unmarshal(evtsJSON, &events); err != nil {
		return fmt.Errorf("decode prepared events: %w", err)
	}
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO ledger_events(event_id, type, payload, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (event_id) DO NOTHING`, evt.EventID, evt.Type, data, now)
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `UPDATE ledger_prepared SET status='COMMITTED', snapshot=NULL, updated_at=? WHERE txid=?`, now, string(txid))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Abort(ctx context.Context, txid common.TxID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ledger_prepared SET status='ABORTED', snapshot=NULL, updated_at=?
		WHERE txid=? AND status='PREPARED'`, time.Now().UTC(), string(txid))
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

// Events returns up to limit committed events, oldest first.
func (s *SQLite) Events(ctx context.Context, limit int) ([]contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM ledger_events ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contracts.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var evt contracts.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// TxLog returns a coordinator log backed by the same database.
func (s *SQLite) TxLog() *SQLiteTxLog { return &SQLiteTxLog{db: s.db} }

type SQLiteTxLog struct {
	db *sql.DB
}

func (l *SQLiteTxLog) Create(ctx context.Context, txid common.TxID, ref string, participants []coordinator.ParticipantRef) error {
	parts, err := json.Marshal(participants)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = l.db.ExecContext(ctx, `INSERT INTO twopc_tx_log(txid, ref, status, participants, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, string(txid), ref, string(common.TxStarted), parts, now, now)
	return err
}

func (l *SQLiteTxLog) SetStatus(ctx context.Context, txid common.TxID, status common.TxStatus) error {
	res, err := l.db.ExecContext(ctx, `UPDATE twopc_tx_log SET status=?, updated_at=? WHERE txid=?`,
		string(status), time.Now().UTC(), string(txid))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coordinator.ErrUnknownTx
	}
	return nil
}

func (l *SQLiteTxLog) GetStatus(ctx context.Context, txid common.TxID) (common.TxStatus, error) {
	var st string
	err := l.db.QueryRowContext(ctx, `SELECT status FROM twopc_tx_log WHERE txid=?`, string(txid)).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", coordinator.ErrUnknownTx
	}
	return common.TxStatus(st), err
}

func (l *SQLiteTxLog) ListByStatus(ctx context.Context, status common.TxStatus) ([]coordinator.TxRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT txid, ref, participants, updated_at FROM twopc_tx_log
		WHERE status=? ORDER BY created_at, rowid`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []coordinator.TxRecord
	for rows.Next() {
		var (
			rec       coordinator.TxRecord
			txid      string
			partsJSON []byte
		)
		if err := rows.Scan(&txid, &rec.Ref, &partsJSON, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.TxID = common.TxID(txid)
		rec.Status = status
		if err := json.Unmarshal(partsJSON, &rec.Participants); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
