package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, reg *Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	return rr.Body.String()
}

func countSeries(body, name string) int {
	n := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, name+"{") {
			n++
		}
	}
	return n
}

func TestRegistryOwnsCollectors(t *testing.T) {
	reg := NewRegistry(WithoutRuntimeCollectors())
	reg.Fixtures.SetCatalog(3, 0, 1)
	reg.HTTP.Begin("http1", "fixture")(http.StatusNotFound, time.Millisecond)

	body := scrape(t, reg)
	for _, want := range []string{
		`mockapi_fixture_routes 3`,
		`mockapi_http_requests_total{area="fixture",code="4xx",protocol="http1"} 1`,
		`mockapi_http_inflight{area="fixture"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
	if strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors to be left out")
	}
}

func TestRegistryIncludesRuntimeCollectorsByDefault(t *testing.T) {
	if body := scrape(t, NewRegistry()); !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go runtime metrics in output")
	}
}

func TestNilRegistryHandlerIsNotFound(t *testing.T) {
	var reg *Registry
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestFixtureMetricsRecordLookups(t *testing.T) {
	reg := NewRegistry(WithoutRuntimeCollectors())
	m := reg.Fixtures

	m.ObserveLookup("GET", "hit", 2*time.Millisecond)
	m.ObserveLookup("get", "hit", time.Millisecond)
	m.ObserveLookup("POST", "method_miss", time.Millisecond)
	m.SetCatalog(12, 1, 3)

	body := scrape(t, reg)
	for _, want := range []string{
		`mockapi_fixture_lookups_total{method="GET",outcome="hit"} 2`,
		`mockapi_fixture_lookups_total{method="POST",outcome="method_miss"} 1`,
		`mockapi_fixture_routes 12`,
		`mockapi_fixture_lint_issues{severity="warning"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}

func TestLookupMethodLabelIsBounded(t *testing.T) {
	reg := NewRegistry(WithoutRuntimeCollectors())
	for i := 0; i < 200; i++ {
		reg.Fixtures.ObserveLookup(fmt.Sprintf("X%d", i), "method_miss", time.Millisecond)
	}
	reg.Fixtures.ObserveLookup("PURGE", "hit", time.Millisecond)

	body := scrape(t, reg)
	if got := countSeries(body, "mockapi_fixture_lookups_total"); got != 2 {
		t.Fatalf("expected 2 lookup series, got %d:\n%s", got, body)
	}
	if !strings.Contains(body, `mockapi_fixture_lookups_total{method="other",outcome="method_miss"} 200`) {
		t.Fatalf("expected non-standard methods folded into other:\n%s", body)
	}
}

func TestMethodLabel(t *testing.T) {
	cases := map[string]string{
		"GET":      "GET",
		"delete":   "DELETE",
		"TRACE":    "TRACE",
		"CONNECT":  "CONNECT",
		"PROPFIND": OtherMethod,
		"":         OtherMethod,
	}
	for in, want := range cases {
		if got := MethodLabel(in); got != want {
			t.Fatalf("MethodLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var f *FixtureMetrics
	f.ObserveLookup("GET", "hit", time.Millisecond)
	f.SetCatalog(1, 0, 0)

	var h *HTTPMetrics
	h.Begin("http1", "fixture")(http.StatusOK, time.Millisecond)
}

func TestStatusClass(t *testing.T) {
	if got := StatusClass(204); got != "2xx" {
		t.Fatalf("expected 2xx, got %s", got)
	}
	if got := StatusClass(503); got != "5xx" {
		t.Fatalf("expected 5xx, got %s", got)
	}
}
