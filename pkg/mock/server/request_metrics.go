package server

import (
	"net/http"
	"time"

	mockmetrics "github.com/theroutercompany/mock_api/pkg/mock/metrics"
)

// requestTracker labels each request for the HTTP collectors.
func requestTracker(m *mockmetrics.HTTPMetrics) func(*http.Request) func(int, time.Duration) {
	return func(r *http.Request) func(int, time.Duration) {
		return m.Begin(classifyProtocol(r), classifyArea(r.URL.Path))
	}
}

func classifyProtocol(r *http.Request) string {
	if r.ProtoMajor == 2 {
		if r.TLS == nil {
			return "h2c"
		}
		return "h2"
	}
	return "http1"
}

func classifyArea(path string) string {
	if isReservedPath(path) {
		return "operational"
	}
	return "fixture"
}
