package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RoundStarted()
	m.RoundConcluded(3)
	m.OrderSubmitted("buy")
	m.OrderRejected("sell", "unauthorized")
	m.TaskExecuted("conclude_round", "ok")
	m.SetTasksPending(1)
	m.NotificationPublished("ok")
	m.NotificationDropped()
	m.SetNotifyQueueDepth(2)
	m.StreamClientConnected()
	m.StreamClientDisconnected()
	if m.Registry() != nil {
		t.Error("Registry() on nil Metrics should be nil")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.RoundStarted()
	m.RoundConcluded(4)
	m.RoundConcluded(1)
	m.OrderSubmitted("sell")
	m.OrderSubmitted("sell")
	m.TaskExecuted("conclude_round", "retry")

	if got := testutil.ToFloat64(m.roundsStarted); got != 1 {
		t.Errorf("rounds started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.matchesCreated); got != 5 {
		t.Errorf("matches created = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.ordersSubmitted.WithLabelValues("sell")); got != 2 {
		t.Errorf("sell orders submitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tasksExecuted.WithLabelValues("conclude_round", "retry")); got != 1 {
		t.Errorf("conclude retries = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RoundStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "roundmarket_rounds_started_total 1") {
		t.Errorf("metrics output missing rounds_started_total:\n%s", rec.Body.String())
	}
}
