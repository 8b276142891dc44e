package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/market-ledger-go/internal/market/apiclient"
	"github.com/nazeru/market-ledger-go/internal/market/domain"
	"github.com/nazeru/market-ledger-go/internal/market/ledger"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	Transactions       int            `json:"transactions"`
	Concurrency        int            `json:"concurrency"`
	OperationsPerTx    int            `json:"operations_per_transaction"`
	TotalOperations    int            `json:"total_operations"`
	SuccessfulRequests int            `json:"successful_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	ErrorClasses       map[string]int `json:"error_classes"`
	FirstError         string         `json:"first_error"`
}

// operation is one API call of a benchmark transaction. It gets the order
// the checkout created, if any.
type operation struct {
	name string
	run  func(ctx context.Context, w *worker, o *domain.Order) error
}

type worker struct {
	buyer  *apiclient.Client
	seller *apiclient.Client
	item   domain.Hash
	price  domain.Amount
}

type metrics struct {
	mu           sync.Mutex
	success      int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	errorClasses map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{
		statusCounts: make(map[string]int),
		errorClasses: make(map[string]int),
	}
}

func (m *metrics) recordTransaction(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
		return
	}
	m.success++
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

func (m *metrics) recordStatus(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, class := classifyError(err)
	m.statusCounts[strconv.Itoa(status)]++
	if class != "" {
		m.errorClasses[class]++
	}
	if err != nil && m.firstError == "" {
		m.firstError = err.Error()
	}
}

func main() {
	baseURL := flag.String("base-url", getenv("MARKET_BASE_URL", "http://localhost:8080"), "market-service base URL")
	scenario := flag.String("scenario", "checkout", "scenario to run: checkout|physical")
	total := flag.Int("total", 1000, "total number of transactions")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	price := flag.Uint64("price", 1200, "item price in the smallest currency unit")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 {
		fmt.Fprintln(os.Stderr, "total must be > 0")
		os.Exit(1)
	}
	if *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency must be > 0")
		os.Exit(1)
	}

	ops, kind, err := buildOperations(*scenario)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	run := uuid.NewString()[:8]
	base := apiclient.New(*baseURL, "", &http.Client{Timeout: *timeout})
	seller := base.As(domain.AccountID("bench-seller-" + run))
	setupCtx, cancel := context.WithTimeout(context.Background(), *timeout)
	item, err := seller.ListItem(setupCtx, ledger.ItemInput{Kind: kind, Title: "bench " + run, Price: domain.Amount(*price), Inventory: uint64(*total)})
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}

	tasks := make(chan struct{})
	var wg sync.WaitGroup
	m := newMetrics()

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		w := &worker{
			buyer:  base.As(domain.AccountID(fmt.Sprintf("bench-buyer%d-%s", i, run))),
			seller: seller,
			item:   item.ID,
			price:  item.Price,
		}
		go func() {
			defer wg.Done()
			for range tasks {
				latency, err := runTransaction(ops, w, *timeout, m)
				m.recordTransaction(latency, err)
			}
		}()
	}

	for i := 0; i < *total; i++ {
		tasks <- struct{}{}
	}
	close(tasks)
	wg.Wait()

	duration := time.Since(start)
	avgLatency := 0.0
	minLatency := 0.0
	maxLatency := 0.0
	if m.success > 0 {
		avgLatency = float64(m.total.Milliseconds()) / float64(m.success)
		minLatency = float64(m.minLatency.Milliseconds())
		maxLatency = float64(m.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)

	result := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            *baseURL,
		Scenario:           *scenario,
		Transactions:       *total,
		Concurrency:        *concurrency,
		OperationsPerTx:    len(ops),
		TotalOperations:    *total * len(ops),
		SuccessfulRequests: m.success,
		ErrorRequests:      m.errors,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avgLatency,
		MinLatencyMs:       minLatency,
		MaxLatencyMs:       maxLatency,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(m.success) / duration.Seconds(),
		StatusCounts:       m.statusCounts,
		ErrorClasses:       m.errorClasses,
		FirstError:         m.firstError,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
}

func buildOperations(scenario string) ([]operation, domain.ItemKind, error) {
	addToCart := operation{name: "add_to_cart", run: func(ctx context.Context, w *worker, _ *domain.Order) error {
		_, err := w.buyer.AddToCart(ctx, w.item, 1)
		return err
	}}
	checkout := operation{name: "checkout", run: func(ctx context.Context, w *worker, o *domain.Order) error {
		rc, err := w.buyer.Checkout(ctx, ledger.CheckoutInput{DeliverToAddress: "bench", Tendered: w.price}, "")
		if err != nil {
			return err
		}
		if len(rc.Orders) != 1 {
			return fmt.Errorf("checkout created %d orders", len(rc.Orders))
		}
		*o = rc.Orders[0]
		return nil
	}}
	switch scenario {
	case "checkout":
		return []operation{addToCart, checkout}, domain.KindService, nil
	case "physical":
		return []operation{
			addToCart,
			checkout,
			{name: "ship", run: func(ctx context.Context, w *worker, o *domain.Order) error {
				_, err := w.seller.AdvanceOrder(ctx, o.ID, "bench", true, false)
				return err
			}},
			{name: "deliver", run: func(ctx context.Context, w *worker, o *domain.Order) error {
				_, err := w.seller.AdvanceOrder(ctx, o.ID, "bench", false, true)
				return err
			}},
		}, domain.KindProduct, nil
	default:
		return nil, "", fmt.Errorf("unknown scenario: %s", scenario)
	}
}

func runTransaction(ops []operation, w *worker, timeout time.Duration, m *metrics) (time.Duration, error) {
	start := time.Now()
	var order domain.Order
	for _, op := range ops {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := op.run(ctx, w, &order)
		cancel()
		m.recordStatus(err)
		if err != nil {
			return time.Since(start), fmt.Errorf("%s: %w", op.name, err)
		}
	}
	return time.Since(start), nil
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// classifyError returns the HTTP status of a call and, for failures, its
// class. Ledger rejections such as storage_full count as business errors.
func classifyError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	var ae *apiclient.APIError
	if !errors.As(err, &ae) {
		return 0, "transport"
	}
	switch {
	case ae.Status >= 500:
		return ae.Status, "http_5xx"
	case ae.Code != "" && ae.Code != "bad_request" && ae.Code != "unauthenticated":
		return ae.Status, "business_rejected"
	default:
		return ae.Status, "http_4xx"
	}
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(values)
	return percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
