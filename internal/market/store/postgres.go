package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
	"github.com/nazeru/market-ledger-go/pkg/outbox"
	"github.com/nazeru/market-ledger-go/pkg/tx/common"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	id         SMALLINT PRIMARY KEY,
	seq        BIGINT NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS ledger_prepared (
	txid       TEXT PRIMARY KEY,
	seq        BIGINT NOT NULL,
	snapshot   JSONB,
	events     JSONB,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS twopc_tx_log (
	txid         TEXT PRIMARY KEY,
	ref          TEXT NOT NULL,
	status       TEXT NOT NULL,
	participants JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS twopc_tx_log_status_idx ON twopc_tx_log(status);
`

// Postgres stores the snapshot in ledger_snapshots and writes the events of
// each commit to the outbox in the same transaction.
type Postgres struct {
	pool  *pgxpool.Pool
	Topic string
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, Topic: contracts.Topic}
}

// Migrate creates the ledger, 2pc log and outbox tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, outbox.Schema)
	return err
}

func (p *Postgres) Load(ctx context.Context) (*domain.Snapshot, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM ledger_snapshots WHERE id=1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) committedSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := p.pool.QueryRow(ctx, `SELECT seq FROM ledger_snapshots WHERE id=1`).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return uint64(seq), err
}

func (p *Postgres) Prepare(ctx context.Context, txid common.TxID, b Batch) error {
	seq, err := p.committedSeq(ctx)
	if err != nil {
		return err
	}
	if err := checkSeq(seq, b.Snapshot.Seq); err != nil {
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
	_, err = p.pool.Exec(ctx, `INSERT INTO ledger_prepared(txid, seq, snapshot, events, status)
		VALUES ($1, $2, $3, $4, 'PREPARED')
		ON CONFLICT (txid) DO NOTHING`, string(txid), int64(b.Snapshot.Seq), snap, events)
	return err
}

func (p *Postgres) Commit(ctx context.Context, txid common.TxID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		seq            int64
		snap, evtsJSON []byte
	)
	err = tx.QueryRow(ctx, `SELECT seq, snapshot, events FROM ledger_prepared
		WHERE txid=$1 AND status='PREPARED' FOR UPDATE`, string(txid)).Scan(&seq, &snap, &evtsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO ledger_snapshots(id, seq, payload, updated_at) VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET seq=EXCLUDED.seq, payload=EXCLUDED.payload, updated_at=now()`, seq, snap)
	if err != nil {
		return err
	}

	var events []contracts.Event
	if err := json.Unmarshal(evtsJSON, &events); err != nil {
		return fmt.Errorf("decode prepared events: %w", err)
	}
	for _, evt := range events {
		if err := outbox.Insert(ctx, tx, evt.EventID, p.Topic, contracts.Key(evt), evt); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `UPDATE ledger_prepared SET status='COMMITTED', snapshot=NULL, updated_at=now() WHERE txid=$1`, string(txid))
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Abort(ctx context.Context, txid common.TxID) error {
	_, err := p.pool.Exec(ctx, `UPDATE ledger_prepared SET status='ABORTED', snapshot=NULL, updated_at=now()
		WHERE txid=$1 AND status='PREPARED'`, string(txid))
	return err
}

// Close leaves the pool to its owner.
func (p *Postgres) Close() error { return nil }

// Pool exposes the pool for the outbox relay.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

// PostgresTxLog is the coordinator log in twopc_tx_log.
type PostgresTxLog struct {
	pool *pgxpool.Pool
}

func NewPostgresTxLog(pool *pgxpool.Pool) *PostgresTxLog { return &PostgresTxLog{pool: pool} }

func (l *PostgresTxLog) Create(ctx context.Context, txid common.TxID, ref string, participants []coordinator.ParticipantRef) error {
	parts, err := json.Marshal(participants)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO twopc_tx_log(txid, ref, status, participants) VALUES ($1, $2, $3, $4)`,
		string(txid), ref, string(common.TxStarted), parts)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s already logged: %w", txid, err)
	}
	return err
}

func (l *PostgresTxLog) SetStatus(ctx context.Context, txid common.TxID, status common.TxStatus) error {
	tag, err := l.pool.Exec(ctx, `UPDATE twopc_tx_log SET status=$2, updated_at=now() WHERE txid=$1`, string(txid), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrUnknownTx
	}
	return nil
}

func (l *PostgresTxLog) GetStatus(ctx context.Context, txid common.TxID) (common.TxStatus, error) {
	var st string
	err := l.pool.QueryRow(ctx, `SELECT status FROM twopc_tx_log WHERE txid=$1`, string(txid)).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", coordinator.ErrUnknownTx
	}
	return common.TxStatus(st), err
}

func (l *PostgresTxLog) ListByStatus(ctx context.Context, status common.TxStatus) ([]coordinator.TxRecord, error) {
	rows, err := l.pool.Query(ctx, `SELECT txid, ref, status, participants, updated_at FROM twopc_tx_log
		WHERE status=$1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coordinator.TxRecord
	for rows.Next() {
		var (
			rec       coordinator.TxRecord
			txid, st  string
			partsJSON []byte
		)
		if err := rows.Scan(&txid, &rec.Ref, &st, &partsJSON, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.TxID = common.TxID(txid)
		rec.Status = common.TxStatus(st)
		if err := json.Unmarshal(partsJSON, &rec.Participants); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
