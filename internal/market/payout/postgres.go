package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/protocol"
)

const vaultSchema = `
CREATE TABLE IF NOT EXISTS vault_state (
	id       SMALLINT PRIMARY KEY,
	balance  BIGINT NOT NULL,
	reserved BIGINT NOT NULL
);
INSERT INTO vault_state(id, balance, reserved) VALUES (1, 0, 0) ON CONFLICT (id) DO NOTHING;
CREATE TABLE IF NOT EXISTS vault_prepared (
	txid       TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	total      BIGINT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS vault_accounts (
	account  TEXT PRIMARY KEY,
	credited BIGINT NOT NULL DEFAULT 0,
	paid_in  BIGINT NOT NULL DEFAULT 0
);
`

var errAmountRange = errors.New("amount out of vault range")

// PostgresVault is the escrow of vault-service. It keeps the same books as
// MemoryVault in postgres so prepared batches survive a restart.
type PostgresVault struct {
	pool *pgxpool.Pool
}

func NewPostgresVault(pool *pgxpool.Pool) *PostgresVault { return &PostgresVault{pool: pool} }

func (v *PostgresVault) Migrate(ctx context.Context) error {
	_, err := v.pool.Exec(ctx, vaultSchema)
	return err
}

func (v *PostgresVault) Prepare(ctx context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	p, err := DecodePayload(req.Payload)
	if err != nil {
		return protocol.PrepareResponse{}, fmt.Errorf("vault prepare: %w", err)
	}
	total := p.Total()
	if total > math.MaxInt64 || p.Deposit > math.MaxInt64 {
		return protocol.PrepareResponse{Reason: errAmountRange.Error()}, nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return protocol.PrepareResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return protocol.PrepareResponse{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM vault_prepared WHERE txid=$1`, string(req.TxID)).Scan(&status)
	switch {
	case err == nil:
		if status == "ABORTED" {
			return protocol.PrepareResponse{Reason: "transaction already aborted"}, nil
		}
		return protocol.PrepareResponse{VoteYes: true}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return protocol.PrepareResponse{}, err
	}

	var balance, reserved int64
	if err := tx.QueryRow(ctx, `SELECT balance, reserved FROM vault_state WHERE id=1 FOR UPDATE`).Scan(&balance, &reserved); err != nil {
		return protocol.PrepareResponse{}, err
	}
	if balance+int64(p.Deposit)-reserved < int64(total) {
		return protocol.PrepareResponse{Reason: ErrInsufficientFunds.Error()}, nil
	}
	if _, err := tx.Exec(ctx, `INSERT INTO vault_prepared(txid, payload, total, status) VALUES ($1, $2, $3, 'PREPARED')`,
		string(req.TxID), payload, int64(total)); err != nil {
		return protocol.PrepareResponse{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE vault_state SET reserved=reserved+$1 WHERE id=1`, int64(total)); err != nil {
		return protocol.PrepareResponse{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return protocol.PrepareResponse{}, err
	}
	return protocol.PrepareResponse{VoteYes: true}, nil
}

func (v *PostgresVault) Commit(ctx context.Context, req protocol.CommitRequest) error {
	return v.finish(ctx, string(req.TxID), true)
}

func (v *PostgresVault) Abort(ctx context.Context, req protocol.AbortRequest) error {
	return v.finish(ctx, string(req.TxID), false)
}

// finish applies or drops a prepared batch. Unknown and finished
// transactions are a no-op.
func (v *PostgresVault) finish(ctx context.Context, txid string, commit bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		raw   []byte
		total int64
	)
	err = tx.QueryRow(ctx, `SELECT payload, total FROM vault_prepared WHERE txid=$1 AND status='PREPARED' FOR UPDATE`, txid).Scan(&raw, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	status := "ABORTED"
	if commit {
		status = "COMMITTED"
		var p protocol.PayoutPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode prepared payout: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE vault_state SET balance=balance+$1-$2 WHERE id=1`, int64(p.Deposit), total); err != nil {
			return err
		}
		if p.From != "" && p.Deposit > 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO vault_accounts(account, paid_in) VALUES ($1, $2)
				ON CONFLICT (account) DO UPDATE SET paid_in=vault_accounts.paid_in+EXCLUDED.paid_in`, p.From, int64(p.Deposit)); err != nil {
				return err
			}
		}
		for _, t := range p.Transfers {
			if _, err := tx.Exec(ctx, `INSERT INTO vault_accounts(account, credited) VALUES ($1, $2)
				ON CONFLICT (account) DO UPDATE SET credited=vault_accounts.credited+EXCLUDED.credited`, t.To, int64(t.Amount)); err != nil {
				return err
			}
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE vault_state SET reserved=GREATEST(reserved-$1, 0) WHERE id=1`, total); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE vault_prepared SET status=$2, updated_at=now() WHERE txid=$1`, txid, status); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Account is what the vault paid to and received from one account.
type Account struct {
	Account  string `json:"account"`
	Credited uint64 `json:"credited"`
	PaidIn   uint64 `json:"paid_in"`
}

func (v *PostgresVault) Account(ctx context.Context, acct string) (Account, error) {
	out := Account{Account: acct}
	var credited, paidIn int64
	err := v.pool.QueryRow(ctx, `SELECT credited, paid_in FROM vault_accounts WHERE account=$1`, acct).Scan(&credited, &paidIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Credited, out.PaidIn = uint64(credited), uint64(paidIn)
	return out, nil
}

// Balance is the escrowed amount not yet paid out.
func (v *PostgresVault) Balance(ctx context.Context) (uint64, error) {
	var b int64
	err := v.pool.QueryRow(ctx, `SELECT balance FROM vault_state WHERE id=1`).Scan(&b)
	return uint64(b), err
}
