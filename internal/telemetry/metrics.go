// Package telemetry collects Prometheus metrics for the pipeline process.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RPCMetrics tracks RPC-over-broker calls from the client side.
type RPCMetrics struct {
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
}

// MonitoringMetrics tracks monitoring event publishing and consumption.
type MonitoringMetrics struct {
	PublishedTotal *prometheus.CounterVec
	ConsumedTotal  *prometheus.CounterVec
}

// Metrics aggregates all metric groups behind one registry.
type Metrics struct {
	registry   *prometheus.Registry
	RPC        *RPCMetrics
	Monitoring *MonitoringMetrics
}

// NewMetrics creates and registers all pipeline metrics.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	rpc := &RPCMetrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimflow_rpc_calls_total",
			Help: "RPC calls issued, by request queue and outcome.",
		}, []string{"queue", "status"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claimflow_rpc_call_duration_seconds",
			Help:    "RPC round-trip duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}

	monitoring := &MonitoringMetrics{
		PublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimflow_monitoring_events_published_total",
			Help: "Monitoring events published, by type and module.",
		}, []string{"event_type", "module_name"}),
		ConsumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claimflow_monitoring_events_consumed_total",
			Help: "Monitoring events consumed, by processing outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		rpc.CallsTotal, rpc.CallDuration,
		monitoring.PublishedTotal, monitoring.ConsumedTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{
		registry:   registry,
		RPC:        rpc,
		Monitoring: monitoring,
	}, nil
}

// ObserveCall records one RPC call outcome.
func (m *RPCMetrics) ObserveCall(queue, status string, seconds float64) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(queue, status).Inc()
	m.CallDuration.WithLabelValues(queue).Observe(seconds)
}

// IncPublished records one published monitoring event.
func (m *MonitoringMetrics) IncPublished(eventType, moduleName string) {
	if m == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(eventType, moduleName).Inc()
}

// IncConsumed records one consumed monitoring event by outcome
// (stored, dropped, failed).
func (m *MonitoringMetrics) IncConsumed(outcome string) {
	if m == nil {
		return
	}
	m.ConsumedTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
