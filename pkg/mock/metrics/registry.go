// Package metrics owns the Prometheus collectors exported by the mock server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "mockapi"

// Option configures a Registry.
type Option func(*Registry)

// WithoutRuntimeCollectors leaves out the Go runtime and process collectors.
func WithoutRuntimeCollectors() Option {
	return func(r *Registry) { r.runtime = false }
}

// Registry holds the server's collector sets and the Prometheus registry
// they are exposed through.
type Registry struct {
	Fixtures *FixtureMetrics
	HTTP     *HTTPMetrics

	runtime bool
	reg     *prometheus.Registry
}

// NewRegistry builds the fixture and HTTP collectors and registers them
// together.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{runtime: true, reg: prometheus.NewRegistry()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.Fixtures = newFixtureMetrics()
	r.HTTP = newHTTPMetrics()

	cs := append(r.Fixtures.collectors(), r.HTTP.collectors()...)
	if r.runtime {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	r.reg.MustRegister(cs...)
	return r
}

// Handler serves the exposition format. A nil registry answers 404.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
