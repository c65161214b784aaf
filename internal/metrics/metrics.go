// Package metrics exposes Prometheus collectors for the task engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied   *prometheus.CounterVec
	expansions      *prometheus.CounterVec
	cacheNodes      prometheus.Gauge
	reindexDuration prometheus.Histogram
	writes          *prometheus.CounterVec
	sseClients      prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		eventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "raido_engine_events_applied_total",
			Help: "Note lifecycle events applied to the engine by kind",
		}, []string{"kind"}),
		expansions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "raido_recurrence_expansions_total",
			Help: "Recurrence expansions by outcome (expanded, unsupported, failed)",
		}, []string{"status"}),
		cacheNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "raido_relationship_cache_nodes",
			Help: "Tasks currently indexed in the relationship cache",
		}),
		reindexDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "raido_engine_reindex_duration_seconds",
			Help:    "Time spent in a full vault reindex",
			Buckets: prometheus.DefBuckets,
		}),
		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "raido_task_writes_total",
			Help: "Task write-backs by action and result",
		}, []string{"action", "result"}),
		sseClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "raido_sse_clients",
			Help: "Connected event-stream clients",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(kind string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) Expansion(status string) {
	if m == nil {
		return
	}
	m.expansions.WithLabelValues(status).Inc()
}

func (m *Metrics) CacheNodes(n int) {
	if m == nil {
		return
	}
	m.cacheNodes.Set(float64(n))
}

func (m *Metrics) ReindexDone(d time.Duration) {
	if m == nil {
		return
	}
	m.reindexDuration.Observe(d.Seconds())
}

func (m *Metrics) Write(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SSEClients(n int) {
	if m == nil {
		return
	}
	m.sseClients.Set(float64(n))
}
