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
	"golang.org/x/sync/errgroup"

	"github.com/nazeru/market-ledger-go/internal/market/payout"
	"github.com/nazeru/market-ledger-go/pkg/config"
	"github.com/nazeru/market-ledger-go/pkg/metrics"
)

const service = "vault-service"

type cfg struct {
	Port        string
	DatabaseURL string
}

func readCfg() (cfg, error) {
	v, err := config.Load(map[string]any{"port": "8081"})
	if err != nil {
		return cfg{}, err
	}
	if err := config.Require(v, "database_url"); err != nil {
		return cfg{}, err
	}
	return cfg{Port: config.String(v, "port"), DatabaseURL: config.String(v, "database_url")}, nil
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

	vault := payout.NewPostgresVault(pool)
	if err := vault.Migrate(ctx); err != nil {
		log.Fatalf("migrate error: %v", err)
	}

	srvMetrics := metrics.NewServerMetrics("vault_service", nil)

	mux := http.NewServeMux()
	mux.Handle("/2pc/", payout.Handler(vault, srvMetrics, service))
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
	mux.HandleFunc("GET /accounts/{account}", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		acct, err := vault.Account(r.Context(), r.PathValue("account"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			srvMetrics.Observe("account", http.StatusInternalServerError, start)
			return
		}
		writeJSON(w, http.StatusOK, acct)
		srvMetrics.Observe("account", http.StatusOK, start)
	})
	mux.HandleFunc("GET /balance", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		b, err := vault.Balance(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			srvMetrics.Observe("balance", http.StatusInternalServerError, start)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"balance": b})
		srvMetrics.Observe("balance", http.StatusOK, start)
	})

	srv := &http.Server{Addr: ":" + c.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("%s listening on :%s", service, c.Port)
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
	if err := g.Wait(); err != nil {
		log.Fatalf("%s error: %v", service, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
