// Package metrics holds the Prometheus collectors of the sync service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	FetchFailures  *prometheus.CounterVec
	PushesApplied  *prometheus.CounterVec
	PushesDropped  *prometheus.CounterVec
	ActiveViews    prometheus.Gauge
	WSClients      prometheus.Gauge
	QuotesArchived prometheus.Counter
	QuotesUploaded prometheus.Counter
}

// New creates the collectors and registers them on a private registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justersync_indexer_fetch_failures_total",
			Help: "indexer fetches resolved to an empty result after a failure",
		}, []string{"op"}),
		PushesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justersync_live_pushes_applied_total",
			Help: "subscription pushes merged into the state store",
		}, []string{"view"}),
		PushesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "justersync_live_pushes_discarded_total",
			Help: "subscription pushes discarded by a merge rule or after stop",
		}, []string{"view"}),
		ActiveViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justersync_live_views_active",
			Help: "live views with an open lifecycle",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "justersync_ws_clients",
			Help: "connected websocket clients",
		}),
		QuotesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justersync_quotes_archived_total",
			Help: "quotes written to the postgres archive",
		}),
		QuotesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "justersync_quotes_uploaded_total",
			Help: "archived quotes moved to object storage",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FetchFailures, m.PushesApplied, m.PushesDropped,
		m.ActiveViews, m.WSClients, m.QuotesArchived, m.QuotesUploaded,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
