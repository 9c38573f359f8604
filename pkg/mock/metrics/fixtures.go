package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OtherMethod labels lookups made with a non-standard method.
const OtherMethod = "other"

var standardMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodConnect: {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// MethodLabel maps method onto a bounded label set. The mock answers any
// method token, so unknown ones share a single series.
func MethodLabel(method string) string {
	m := strings.ToUpper(method)
	if _, ok := standardMethods[m]; ok {
		return m
	}
	return OtherMethod
}

// FixtureMetrics records fixture lookup outcomes and catalog health.
type FixtureMetrics struct {
	lookups    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	routes     prometheus.Gauge
	lintIssues *prometheus.GaugeVec
}

func newFixtureMetrics() *FixtureMetrics {
	return &FixtureMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fixture_lookups_total",
			Help:      "Fixture lookups by request method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fixture_lookup_duration_seconds",
			Help:      "Time spent resolving and loading fixtures.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"outcome"}),
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "fixture_routes",
			Help:      "Servable routes found by the last catalog scan.",
		}),
		lintIssues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "fixture_lint_issues",
			Help:      "Issues reported by the last fixture lint, by severity.",
		}, []string{"severity"}),
	}
}

func (m *FixtureMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.lookups, m.duration, m.routes, m.lintIssues}
}

// ObserveLookup records one lookup. A nil receiver is a no-op.
func (m *FixtureMetrics) ObserveLookup(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(MethodLabel(method), outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SetCatalog records the result of a catalog scan and lint.
func (m *FixtureMetrics) SetCatalog(routes, errors, warnings int) {
	if m == nil {
		return
	}
	m.routes.Set(float64(routes))
	m.lintIssues.WithLabelValues("error").Set(float64(errors))
	m.lintIssues.WithLabelValues("warning").Set(float64(warnings))
}
