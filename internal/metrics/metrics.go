package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulse"

// Metrics holds every collector pulse exports. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	dispatchRead     *prometheus.CounterVec
	dispatchAppended *prometheus.CounterVec
	dispatchRatio    *prometheus.GaugeVec
	dispatchRuns     *prometheus.CounterVec

	published    *prometheus.CounterVec
	dequeued     *prometheus.CounterVec
	acked        *prometheus.CounterVec
	decodeDrops  *prometheus.CounterVec
	reclaimed    *prometheus.CounterVec
	deadLettered *prometheus.CounterVec

	handled        *prometheus.CounterVec
	inFlight       *prometheus.GaugeVec
	handleDuration *prometheus.HistogramVec

	storeCommit prometheus.Histogram
	storeRead   prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "read_total",
			Help: "Accounts read from the registry by dispatch cycles.",
		}, []string{"queue"}),
		dispatchAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "appended_total",
			Help: "Accounts newly queued by dispatch cycles.",
		}, []string{"queue"}),
		dispatchRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "appended_ratio",
			Help: "Appended/read ratio of the last dispatch cycle.",
		}, []string{"queue"}),
		dispatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "runs_total",
			Help: "Dispatch cycles by result.",
		}, []string{"queue", "result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "published_total",
			Help: "Accounts appended to a queue.",
		}, []string{"queue"}),
		dequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "dequeued_total",
			Help: "Items handed to consumers.",
		}, []string{"queue"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "acked_total",
			Help: "Items acknowledged.",
		}, []string{"queue"}),
		decodeDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "decode_dropped_total",
			Help: "Stored values dropped because they are not valid account ids.",
		}, []string{"source"}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "reclaimed_total",
			Help: "Idle deliveries transferred to a live consumer.",
		}, []string{"queue"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "dead_lettered_total",
			Help: "Items dropped after exceeding the delivery limit.",
		}, []string{"queue"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "handled_total",
			Help: "Handler invocations by outcome.",
		}, []string{"queue", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "in_flight",
			Help: "Handler invocations currently holding a permit.",
		}, []string{"queue"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "worker", Name: "handle_duration_seconds",
			Help:    "Handler duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		storeCommit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "batch_commit_seconds",
			Help:    "Embedded store batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		storeRead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "read_seconds",
			Help:    "Embedded store point read latency.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.dispatchRead, m.dispatchAppended, m.dispatchRatio, m.dispatchRuns,
		m.published, m.dequeued, m.acked, m.decodeDrops, m.reclaimed, m.deadLettered,
		m.handled, m.inFlight, m.handleDuration,
		m.storeCommit, m.storeRead,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDispatch records one dispatch cycle.
func (m *Metrics) ObserveDispatch(queue string, read, appended int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.dispatchRuns.WithLabelValues(queue, "error").Inc()
		return
	}
	m.dispatchRuns.WithLabelValues(queue, "ok").Inc()
	m.dispatchRead.WithLabelValues(queue).Add(float64(read))
	m.dispatchAppended.WithLabelValues(queue).Add(float64(appended))
	ratio := 0.0
	if read > 0 {
		ratio = float64(appended) / float64(read)
	}
	m.dispatchRatio.WithLabelValues(queue).Set(ratio)
}

func (m *Metrics) AddPublished(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.published.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) AddDequeued(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dequeued.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) AddAcked(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.acked.WithLabelValues(queue).Add(float64(n))
}

// AddDecodeDropped counts undecodable values; source is a queue or "registry".
func (m *Metrics) AddDecodeDropped(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.decodeDrops.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) AddReclaimed(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reclaimed.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) AddDeadLettered(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deadLettered.WithLabelValues(queue).Add(float64(n))
}

// Outcome labels for ObserveHandle.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

// ObserveHandle records a finished handler invocation.
func (m *Metrics) ObserveHandle(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(queue, outcome).Inc()
	m.handleDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// InFlight adjusts the in-flight gauge by delta.
func (m *Metrics) InFlight(queue string, delta int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(queue).Add(float64(delta))
}

// StoreHook adapts the store collectors to the Pebble metrics hook.
func (m *Metrics) StoreHook() StoreHook { return StoreHook{m: m} }

// StoreHook implements pebblestore.MetricsHook.
type StoreHook struct{ m *Metrics }

func (h StoreHook) ObserveRead(elapsed time.Duration, _ int) {
	if h.m == nil {
		return
	}
	h.m.storeRead.Observe(elapsed.Seconds())
}

func (h StoreHook) ObserveBatchCommit(elapsed time.Duration, _ int, _ int) {
	if h.m == nil {
		return
	}
	h.m.storeCommit.Observe(elapsed.Seconds())
}
