package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewServerMetrics registers the HTTP metrics of service with reg, or with
// the default registry when reg is nil.
func NewServerMetrics(service string, reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Observe records one finished request.
func (m *ServerMetrics) Observe(handler string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
}

// LedgerMetrics counts ledger operations, order transitions and released
// funds. A nil *LedgerMetrics records nothing.
type LedgerMetrics struct {
	Ops         *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Payouts     *prometheus.CounterVec
	CommitMS    prometheus.Histogram
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by result code.",
		}, []string{"op", "result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "order_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		Payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "payout_amount_total",
			Help:      "Funds released from the vault, in the smallest currency unit.",
		}, []string{"reason"}),
		CommitMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "commit_duration_ms",
			Help:      "Two-phase commit latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.Ops, m.Transitions, m.Payouts, m.CommitMS)
	return m
}

func (m *LedgerMetrics) Op(op, result string) {
	if m != nil {
		m.Ops.WithLabelValues(op, result).Inc()
	}
}

func (m *LedgerMetrics) Transition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *LedgerMetrics) Payout(reason string, amount uint64) {
	if m != nil {
		m.Payouts.WithLabelValues(reason).Add(float64(amount))
	}
}

func (m *LedgerMetrics) Commit(d time.Duration) {
	if m != nil {
		m.CommitMS.Observe(float64(d.Milliseconds()))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
