// Package metric provides the Prometheus metrics registry shared by marble
// listeners. Components follow the nil-registry pattern: a nil *Registry
// disables metrics entirely.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated Prometheus registry so listener metrics never
// collide with a host application's default registry.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a registry pre-loaded with the standard Go and process
// collectors.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{registry: registry}
}

// PrometheusRegistry exposes the underlying registry for component metric
// registration.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler returns the scrape endpoint handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
