package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/nazeru/market-ledger-go/internal/market/httpapi"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/internal/market/store"
	"github.com/nazeru/market-ledger-go/pkg/config"
	"github.com/nazeru/market-ledger-go/pkg/kafka"
	"github.com/nazeru/market-ledger-go/pkg/logging"
	"github.com/nazeru/market-ledger-go/pkg/metrics"
	"github.com/nazeru/market-ledger-go/pkg/outbox"
	"github.com/nazeru/market-ledger-go/pkg/tx/twopc/coordinator"
)

const service = "market-service"

type cfg struct {
	Port           string
	Store          string // memory | file | sqlite | postgres
	DataPath       string
	DatabaseURL    string
	VaultBaseURL   string
	KafkaBrokers   string
	RequestTimeout time.Duration
	CommitRetries  int
	RelayInterval  time.Duration
	// RecoverInterval is how often commits left in doubt are retried.
	RecoverInterval time.Duration
}

func readCfg() (cfg, error) {
	v, err := config.Load(map[string]any{
		"port":                "8080",
		"store":               "memory",
		"data_path":           "market.db",
		"request_timeout_ms":  2500,
		"commit_retries":      3,
		"relay_interval_ms":   1000,
		"recover_interval_ms": 5000,
	})
	if err != nil {
		return cfg{}, err
	}
	c := cfg{
		Port:            config.String(v, "port"),
		Store:           config.String(v, "store"),
		DataPath:        config.String(v, "data_path"),
		DatabaseURL:     config.String(v, "database_url"),
		VaultBaseURL:    config.String(v, "vault_base_url"),
		KafkaBrokers:    config.String(v, "kafka_brokers"),
		RequestTimeout:  config.Millis(v, "request_timeout_ms"),
		CommitRetries:   v.GetInt("commit_retries"),
		RelayInterval:   config.Millis(v, "relay_interval_ms"),
		RecoverInterval: config.Millis(v, "recover_interval_ms"),
	}
	switch c.Store {
	case "memory", "file", "sqlite":
	case "postgres":
		if err := config.Require(v, "database_url"); err != nil {
			return cfg{}, err
		}
	default:
		return cfg{}, fmt.Errorf("unknown STORE %q", c.Store)
	}
	return c, nil
}

// backend is what the store driver provides to the ledger.
type backend struct {
	store store.Store
	txlog coordinator.TxLogStore
	pool  *pgxpool.Pool
}

func openBackend(ctx context.Context, c cfg) (backend, error) {
	switch c.Store {
	case "file":
		f, err := store.OpenFile(c.DataPath)
		if err != nil {
			return backend{}, err
		}
		txlog, err := f.TxLog()
		if err != nil {
			return backend{}, err
		}
		return backend{store: f, txlog: txlog}, nil
	case "sqlite":
		s, err := store.OpenSQLite(c.DataPath)
		if err != nil {
			return backend{}, err
		}
		return backend{store: s, txlog: s.TxLog()}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return backend{}, fmt.Errorf("db connect: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return backend{}, fmt.Errorf("migrate: %w", err)
		}
		return backend{store: pg, txlog: store.NewPostgresTxLog(pool), pool: pool}, nil
	default:
		return backend{store: store.NewMemory()}, nil
	}
}

func main() {
	c, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, c)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer be.store.Close()
	if be.pool != nil {
		defer be.pool.Close()
	}

	var vault coordinator.ParticipantClient = payout.NewMemoryVault()
	if c.VaultBaseURL != "" {
		vault = payout.NewHTTPVault(c.VaultBaseURL, &http.Client{Timeout: c.RequestTimeout})
	}

	l, err := ledger.Open(ctx, ledger.Options{
		Store:         be.store,
		Vault:         vault,
		TxLog:         be.txlog,
		Metrics:       metrics.NewLedgerMetrics(nil),
		Service:       service,
		CommitRetries: c.CommitRetries,
	})
	if err != nil {
		log.Fatalf("ledger open error: %v", err)
	}

	api := &httpapi.Server{
		Ledger:  l,
		Metrics: metrics.NewServerMetrics("market_service", nil),
		Service: service,
		Timeout: c.RequestTimeout,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", api.Handler())
	srv := &http.Server{Addr: ":" + c.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("%s listening on :%s (STORE=%s, remote vault=%v)", service, c.Port, c.Store, c.VaultBaseURL != "")
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
	g.Go(func() error { return l.RunRecovery(gctx, c.RecoverInterval) })

	kc := kafka.NewClient(c.KafkaBrokers)
	switch {
	case be.pool != nil && kc.Enabled():
		w, err := kc.NewWriter("")
		if err != nil {
			log.Fatalf("kafka error: %v", err)
		}
		defer w.Close()
		relay := &outbox.Relay{DB: be.pool, Publisher: w, Service: service, Interval: c.RelayInterval}
		g.Go(func() error { return relay.Run(gctx) })
	case kc.Enabled():
		logging.Log(logging.Fields{Service: service, Step: "outbox_relay", Status: "disabled", Message: "events are only relayed from the postgres store"})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("%s error: %v", service, err)
	}
}
