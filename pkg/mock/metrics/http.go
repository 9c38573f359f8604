package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts served requests by protocol, area and status class.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	inflight *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Count of served requests labelled by protocol, area, and status class.",
		}, []string{"protocol", "area", "code"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "http_inflight",
			Help:      "Current number of in-flight requests by area.",
		}, []string{"area"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Request duration segmented by protocol and area.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol", "area"}),
	}
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.inflight, m.duration}
}

// Begin marks a request in flight and returns the func that completes it.
func (m *HTTPMetrics) Begin(protocol, area string) func(status int, elapsed time.Duration) {
	if m == nil {
		return func(int, time.Duration) {}
	}
	m.inflight.WithLabelValues(area).Inc()
	return func(status int, elapsed time.Duration) {
		if status <= 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(protocol, area, StatusClass(status)).Inc()
		m.duration.WithLabelValues(protocol, area).Observe(elapsed.Seconds())
		m.inflight.WithLabelValues(area).Dec()
	}
}

// StatusClass renders 404 as "4xx".
func StatusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
