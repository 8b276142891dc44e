package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLedgerMetricsCount(t *testing.T) {
	m := NewLedgerMetrics(prometheus.NewRegistry())
	m.Op("checkout", "ok")
	m.Op("checkout", "ok")
	m.Payout("referral", 30)
	m.Transition("awaiting", "shipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ops.WithLabelValues("checkout", "ok")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.Payouts.WithLabelValues("referral")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("awaiting", "shipped")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *LedgerMetrics
	m.Op("x", "y")
	m.Commit(time.Millisecond)
	var s *ServerMetrics
	s.Observe("h", 200, time.Now())
}

func TestServerMetricsUsesStatusCode(t *testing.T) {
	s := NewServerMetrics("test", prometheus.NewRegistry())
	s.Observe("checkout", 409, time.Now())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Requests.WithLabelValues("checkout", "409")))
}
