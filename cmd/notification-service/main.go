package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/nazeru/market-ledger-go/pkg/config"
	"github.com/nazeru/market-ledger-go/pkg/contracts"
	"github.com/nazeru/market-ledger-go/pkg/kafka"
	"github.com/nazeru/market-ledger-go/pkg/logging"
	"github.com/nazeru/market-ledger-go/pkg/metrics"
)

const service = "notification-service"

const schema = `
CREATE TABLE IF NOT EXISTS inbox (
	event_id    TEXT PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS notifications (
	event_id   TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	order_id   TEXT NOT NULL DEFAULT '',
	account    TEXT NOT NULL DEFAULT '',
	txid       TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_account_idx ON notifications(account, created_at DESC);
`

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	Topic        string
	GroupID      string
}

func readCfg() (cfg, error) {
	v, err := config.Load(map[string]any{
		"port":           "8082",
		"kafka_topic":    contracts.Topic,
		"kafka_group_id": service,
	})
	if err != nil {
		return cfg{}, err
	}
	if err := config.Require(v, "database_url", "kafka_brokers"); err != nil {
		return cfg{}, err
	}
	return cfg{
		Port:         config.String(v, "port"),
		DatabaseURL:  config.String(v, "database_url"),
		KafkaBrokers: config.String(v, "kafka_brokers"),
		Topic:        config.String(v, "kafka_topic"),
		GroupID:      config.String(v, "kafka_group_id"),
	}, nil
}

type notification struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	OrderID   string          `json:"order_id,omitempty"`
	Account   string          `json:"account,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	c, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, c.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Fatalf("migrate error: %v", err)
	}

	reader, err := kafka.NewClient(c.KafkaBrokers).NewReader(c.Topic, c.GroupID)
	if err != nil {
		log.Fatalf("kafka error: %v", err)
	}
	defer reader.Close()

	srvMetrics := metrics.NewServerMetrics("notification_service", nil)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			srvMetrics.Observe("health", http.StatusServiceUnavailable, start)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		srvMetrics.Observe("health", http.StatusOK, start)
	})
	mux.HandleFunc("GET /v1/notifications/{account}", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		out, err := listNotifications(r.Context(), pool, r.PathValue("account"), 50)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			srvMetrics.Observe("list", http.StatusInternalServerError, start)
			return
		}
		writeJSON(w, http.StatusOK, out)
		srvMetrics.Observe("list", http.StatusOK, start)
	})
	srv := &http.Server{Addr: ":" + c.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("%s listening on :%s (topic=%s)", service, c.Port, c.Topic)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return consume(gctx, pool, reader) })
	if err := g.Wait(); err != nil {
		log.Fatalf("%s error: %v", service, err)
	}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// consume stores every market event once. Offsets are committed after the
// event is saved, so a crash replays rather than drops.
func consume(ctx context.Context, pool *pgxpool.Pool, r messageReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("kafka read error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		evt, err := kafka.DecodeEvent(msg)
		if err != nil {
			logging.Log(logging.Fields{Service: service, Step: "decode", Status: "skipped", Message: err.Error()})
		} else if err := save(ctx, pool, evt); err != nil {
			log.Printf("notification save error: %v", err)
			continue
		} else {
			logging.Log(logging.Fields{Service: service, TxID: evt.TxID, OrderID: evt.OrderID, Account: evt.Account, EventID: evt.EventID, Step: evt.Type, Status: "stored"})
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Printf("kafka commit error: %v", err)
		}
	}
}

func save(ctx context.Context, pool *pgxpool.Pool, evt contracts.Event) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `INSERT INTO inbox(event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`, evt.EventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO notifications(event_id, type, order_id, account, txid, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, evt.EventID, evt.Type, evt.OrderID, evt.Account, evt.TxID, data, evt.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func listNotifications(ctx context.Context, pool *pgxpool.Pool, account string, limit int) ([]notification, error) {
	rows, err := pool.Query(ctx, `SELECT event_id, type, order_id, account, payload, created_at FROM notifications
		WHERE account=$1 ORDER BY created_at DESC LIMIT $2`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []notification{}
	for rows.Next() {
		var n notification
		if err := rows.Scan(&n.EventID, &n.Type, &n.OrderID, &n.Account, &n.Payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
