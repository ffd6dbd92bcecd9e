package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roundmarket"

// Metrics holds the process collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	roundsStarted   prometheus.Counter
	roundsConcluded prometheus.Counter
	matchesCreated  prometheus.Counter

	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec

	tasksExecuted *prometheus.CounterVec
	tasksPending  prometheus.Gauge

	notificationsPublished *prometheus.CounterVec
	notificationsDropped   prometheus.Counter
	notifyQueueDepth       prometheus.Gauge

	streamClients prometheus.Gauge
}

// New creates and registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		roundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rounds", Name: "started_total",
			Help: "Rounds opened.",
		}),
		roundsConcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rounds", Name: "concluded_total",
			Help: "Rounds concluded.",
		}),
		matchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rounds", Name: "matches_total",
			Help: "Matches persisted by round conclusions.",
		}),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "submitted_total",
			Help: "Orders accepted, by side.",
		}, []string{"side"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "rejected_total",
			Help: "Orders rejected, by side and reason.",
		}, []string{"side", "reason"}),
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tasks_total",
			Help: "Scheduled task executions, by kind and result.",
		}, []string{"kind", "result"}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tasks_pending",
			Help: "Tasks due at the last poll.",
		}),
		notificationsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "published_total",
			Help: "Notification publish attempts, by result.",
		}, []string{"result"}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "dropped_total",
			Help: "Notifications dropped because the dispatcher was stopped.",
		}),
		notifyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "notify", Name: "queue_depth",
			Help: "Notifications waiting to be published.",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "stream_clients",
			Help: "Connected round event stream clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.roundsStarted,
		m.roundsConcluded,
		m.matchesCreated,
		m.ordersSubmitted,
		m.ordersRejected,
		m.tasksExecuted,
		m.tasksPending,
		m.notificationsPublished,
		m.notificationsDropped,
		m.notifyQueueDepth,
		m.streamClients,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.roundsStarted.Inc()
}

func (m *Metrics) RoundConcluded(matches int) {
	if m == nil {
		return
	}
	m.roundsConcluded.Inc()
	m.matchesCreated.Add(float64(matches))
}

func (m *Metrics) OrderSubmitted(side string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(side).Inc()
}

func (m *Metrics) OrderRejected(side, reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(side, reason).Inc()
}

// TaskExecuted records one task run. result is "ok", "retry" or "dropped".
func (m *Metrics) TaskExecuted(kind, result string) {
	if m == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) SetTasksPending(n int) {
	if m == nil {
		return
	}
	m.tasksPending.Set(float64(n))
}

// NotificationPublished records a publish attempt. result is "ok" or "error".
func (m *Metrics) NotificationPublished(result string) {
	if m == nil {
		return
	}
	m.notificationsPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) SetNotifyQueueDepth(n int) {
	if m == nil {
		return
	}
	m.notifyQueueDepth.Set(float64(n))
}

func (m *Metrics) StreamClientConnected() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

func (m *Metrics) StreamClientDisconnected() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}
