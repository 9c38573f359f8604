package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"golang.org/x/net/http2"

	"github.com/theroutercompany/mock_api/internal/platform/health"
	pkglog "github.com/theroutercompany/mock_api/pkg/log"
	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
	"github.com/theroutercompany/mock_api/pkg/mock/handler"
	mockmetrics "github.com/theroutercompany/mock_api/pkg/mock/metrics"
)

type stubReporter struct {
	report health.Report
}

func (s stubReporter) Readiness(ctx context.Context) health.Report {
	return s.report
}

type stubOpenAPIProvider struct {
	data []byte
	err  error
}

func (s stubOpenAPIProvider) Document(_ context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func newTestConfig() mockconfig.Config {
	cfg := mockconfig.Default()
	cfg.Fixtures.Root = "testdata"
	return cfg
}

func newTestStore() *fixture.Store {
	return fixture.NewStore(fstest.MapFS{
		"GET.mock":               {Data: []byte("HTTP/1.1 200 OK\nContent-Type: text/plain\n\nroot")},
		"users/__/GET.mock":      {Data: []byte("HTTP/1.1 200 OK\nContent-Type: application/json\n\n{ \"id\": 1 }")},
		"users/OPTIONS.mock":     {Data: []byte("HTTP/1.1 204 No Content\nAllow: GET, POST\n\n")},
		"users/POST.mock":        {Data: []byte("HTTP/1.1 201 Created\n\n")},
		"__mocked/GET.mock":      {Data: []byte("HTTP/1.1 200 OK\n\nnot reserved")},
		"__mock/health/GET.mock": {Data: []byte("HTTP/1.1 418 I'm a teapot\n\nshadowed")},
	})
}

func newTestServer(cfg mockconfig.Config, reporter readinessReporter, registry *mockmetrics.Registry, opts ...Option) *Server {
	opts = append([]Option{WithLogger(pkglog.NewNop())}, opts...)
	return New(cfg, newTestStore(), reporter, registry, opts...)
}

func TestHandleHealthReturnsOkPayload(t *testing.T) {
	cfg := newTestConfig()
	cfg.Version = "abc123"
	srv := newTestServer(cfg, stubReporter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/__mock/health", nil)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, status)
	}

	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers applied")
	}

	var payload struct {
		Status    string  `json:"status"`
		Uptime    float64 `json:"uptime"`
		Timestamp string  `json:"timestamp"`
		Version   string  `json:"version"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if payload.Status != "ok" {
		t.Fatalf("unexpected status: %s", payload.Status)
	}
	if payload.Version != "abc123" {
		t.Fatalf("expected version abc123, got %s", payload.Version)
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Fatalf("expected RFC3339 timestamp: %v", err)
	}
}

func TestHandleReadinessReportsReady(t *testing.T) {
	cfg := newTestConfig()
	readyReport := health.Report{
		Status:    "ready",
		CheckedAt: time.Now().UTC(),
		Checks: []health.CheckReport{
			{Name: "fixture-root", Healthy: true, CheckedAt: time.Now().UTC()},
		},
	}
	srv := newTestServer(cfg, stubReporter{report: readyReport}, nil)

	req := httptest.NewRequest(http.MethodGet, "/__mock/readyz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	req.Header.Set("X-Trace-Id", "trace-456")
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, status)
	}

	var payload struct {
		Status    string               `json:"status"`
		Checks    []health.CheckReport `json:"checks"`
		RequestID string               `json:"requestId"`
		TraceID   string               `json:"traceId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Status != "ready" {
		t.Fatalf("expected ready status, got %s", payload.Status)
	}
	if payload.RequestID != "req-123" {
		t.Fatalf("expected requestId propagated")
	}
	if payload.TraceID != "trace-456" {
		t.Fatalf("expected traceId propagated")
	}
	if len(payload.Checks) != 1 || payload.Checks[0].Name != "fixture-root" {
		t.Fatalf("unexpected checks: %+v", payload.Checks)
	}
}

func TestHandleReadinessReportsDegraded(t *testing.T) {
	cfg := newTestConfig()
	degradedReport := health.Report{
		Status:    "degraded",
		CheckedAt: time.Now().UTC(),
		Checks: []health.CheckReport{
			{Name: "fixture-lint", Healthy: false, Error: "2 lint errors", CheckedAt: time.Now().UTC()},
		},
	}
	srv := newTestServer(cfg, stubReporter{report: degradedReport}, nil)

	req := httptest.NewRequest(http.MethodGet, "/__mock/readyz", nil)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusServiceUnavailable {
		t.Fatalf("expected %d, got %d", http.StatusServiceUnavailable, status)
	}

	var payload health.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded status, got %s", payload.Status)
	}
	if len(payload.Checks) != 1 || payload.Checks[0].Error != "2 lint errors" {
		t.Fatalf("unexpected check results: %+v", payload.Checks)
	}
}

func TestReservedPathsNeverReachFixtures(t *testing.T) {
	srv := newTestServer(newTestConfig(), stubReporter{}, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/__mock/health", nil))
	if rr.Code == http.StatusTeapot {
		t.Fatalf("expected operational endpoint to shadow fixture")
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/__mock/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown operational endpoint, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "problem+json") {
		t.Fatalf("expected problem response, got %q", ct)
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/__mocked", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "not reserved" {
		t.Fatalf("expected fixture for path sharing the prefix, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestFixtureReplayThroughMiddleware(t *testing.T) {
	srv := newTestServer(newTestConfig(), stubReporter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/9", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != `{"id":1}` {
		t.Fatalf("unexpected body %q", body)
	}
	if rr.Header().Get("X-Request-Id") != "req-1" {
		t.Fatalf("expected request id echoed")
	}
	if rr.Header().Get("X-Frame-Options") != "" {
		t.Fatalf("expected fixture replies without security headers")
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"error":"Mock directory not found"}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRoutesEndpointListsCatalog(t *testing.T) {
	srv := newTestServer(newTestConfig(), stubReporter{}, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/__mock/routes", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var payload struct {
		Wildcard string      `json:"wildcard"`
		Routes   []routeView `json:"routes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Wildcard != "__" {
		t.Fatalf("unexpected wildcard %q", payload.Wildcard)
	}

	var found bool
	for _, route := range payload.Routes {
		if route.Method == http.MethodGet && route.File == "users/__/GET.mock" {
			found = true
			if len(route.Params) != 1 {
				t.Fatalf("expected one param, got %v", route.Params)
			}
		}
	}
	if !found {
		t.Fatalf("expected users route in %+v", payload.Routes)
	}
}

func TestMetricsEndpointAvailableWhenRegistryProvided(t *testing.T) {
	cfg := newTestConfig()
	registry := mockmetrics.NewRegistry(mockmetrics.WithoutRuntimeCollectors())
	srv := newTestServer(cfg, stubReporter{}, registry)

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/1", nil))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/users/1", nil))

	req := httptest.NewRequest(http.MethodGet, "/__mock/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics handler to return 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`mockapi_fixture_lookups_total{method="GET",outcome="hit"} 1`,
		`mockapi_fixture_lookups_total{method="DELETE",outcome="method_miss"} 1`,
		`mockapi_http_requests_total{area="fixture",code="2xx",protocol="http1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}

func TestFixtureLookupSeriesStayBoundedForCustomMethods(t *testing.T) {
	registry := mockmetrics.NewRegistry(mockmetrics.WithoutRuntimeCollectors())
	srv := newTestServer(newTestConfig(), stubReporter{}, registry)

	for i := 0; i < 300; i++ {
		srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(fmt.Sprintf("X%d", i), "/", nil))
	}

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/__mock/metrics", nil))
	series := 0
	for _, line := range strings.Split(rr.Body.String(), "\n") {
		if strings.HasPrefix(line, "mockapi_fixture_lookups_total{") {
			series++
		}
	}
	if series != 1 {
		t.Fatalf("expected a single lookup series for custom methods, got %d:\n%s", series, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `mockapi_fixture_lookups_total{method="other",outcome="method_miss"} 300`) {
		t.Fatalf("expected custom methods counted under other:\n%s", rr.Body.String())
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	cfg := newTestConfig()
	cfg.Metrics.Enabled = false
	srv := newTestServer(cfg, stubReporter{}, mockmetrics.NewRegistry())

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/__mock/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when metrics disabled, got %d", rr.Code)
	}
}

func TestObserverOptionReceivesLookups(t *testing.T) {
	var seen []handler.Observation
	srv := newTestServer(newTestConfig(), stubReporter{}, nil, WithObserver(func(o handler.Observation) {
		seen = append(seen, o)
	}))

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/users", nil))

	if len(seen) != 1 || seen[0].Outcome != handler.OutcomeHit {
		t.Fatalf("unexpected observations: %+v", seen)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	cfg := newTestConfig()
	cfg.CORS.Enabled = true
	cfg.CORS.AllowedOrigins = []string{"https://allowed.example"}
	srv := newTestServer(cfg, stubReporter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	req.Header.Set("Origin", "https://allowed.example")
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if allowOrigin := rr.Header().Get("Access-Control-Allow-Origin"); allowOrigin != "https://allowed.example" {
		t.Fatalf("expected allow origin header, got %q", allowOrigin)
	}
	if vary := rr.Header().Get("Vary"); !strings.Contains(vary, "Origin") {
		t.Fatalf("expected Vary header to include Origin, got %q", vary)
	}
}

func TestCORSBlocksUnknownOrigin(t *testing.T) {
	cfg := newTestConfig()
	cfg.CORS.Enabled = true
	cfg.CORS.AllowedOrigins = []string{"https://allowed.example"}
	srv := newTestServer(cfg, stubReporter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	req.Header.Set("Origin", "https://blocked.example")
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for blocked origin, got %d", rr.Code)
	}
}

func TestCORSPreflightReachesOptionsFixture(t *testing.T) {
	cfg := newTestConfig()
	cfg.CORS.Enabled = true
	cfg.CORS.AllowedOrigins = []string{"https://allowed.example"}
	srv := newTestServer(cfg, stubReporter{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/users", nil)
	req.Header.Set("Origin", "https://allowed.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected fixture status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != "GET, POST" {
		t.Fatalf("expected fixture headers, got %v", rr.Header())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://allowed.example" {
		t.Fatalf("expected cors headers on preflight")
	}
}

func TestCORSDisabledLeavesHeadersAlone(t *testing.T) {
	srv := newTestServer(newTestConfig(), stubReporter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no cors headers when disabled")
	}
}

func TestRateLimiterEnforcesLimitPerClient(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimit.Window = mockconfig.DurationFrom(time.Second)
	cfg.RateLimit.Max = 1
	srv := newTestServer(cfg, stubReporter{}, nil)

	req1 := httptest.NewRequest(http.MethodGet, "/", nil)
	req1.RemoteAddr = "192.0.2.10:1234"
	rr1 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr1, req1)
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rr1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "192.0.2.10:1234"
	rr2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", rr2.Code)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	req3.RemoteAddr = "192.0.2.11:1234"
	rr3 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr3, req3)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected other client allowed, got %d", rr3.Code)
	}
}

func TestRateLimiterDisabledByDefault(t *testing.T) {
	srv := newTestServer(newTestConfig(), stubReporter{}, nil)
	if srv.rateLimiter != nil {
		t.Fatalf("expected no rate limiter when max is zero")
	}
	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
}

func TestRateLimiterCleansUpIdleClients(t *testing.T) {
	limiter := newRateLimiter(time.Second, 5)
	start := time.Unix(1_700_000_000, 0)

	limiter.allow("a", start)
	limiter.allow("b", start)
	if limiter.size() != 2 {
		t.Fatalf("expected two tracked clients, got %d", limiter.size())
	}

	limiter.allow("c", start.Add(5*time.Second))
	if limiter.size() != 1 {
		t.Fatalf("expected idle clients evicted, got %d", limiter.size())
	}
}

func TestBodyLimitRejectsOversizedPayload(t *testing.T) {
	cfg := newTestConfig()
	srv := newTestServer(cfg, stubReporter{}, nil)

	body := bytes.Repeat([]byte("A"), 1<<20+1)
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestOpenAPIHandlerReturnsDocument(t *testing.T) {
	provider := stubOpenAPIProvider{data: []byte(`{"openapi":"3.0.3"}`)}
	cfg := newTestConfig()
	srv := newTestServer(cfg, stubReporter{}, nil, WithOpenAPIProvider(provider))

	req := httptest.NewRequest(http.MethodGet, "/__mock/openapi.json", nil)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json content type, got %q", ct)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"openapi":"3.0.3"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestOpenAPIHandlerGeneratesFromFixtures(t *testing.T) {
	srv := newTestServer(newTestConfig(), stubReporter{}, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/__mock/openapi.json", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc.Paths["/users/{param1}"]; !ok {
		t.Fatalf("expected wildcard route documented, got %v", doc.Paths)
	}
}

func TestOpenAPIHandlerReturnsServiceUnavailableOnError(t *testing.T) {
	provider := stubOpenAPIProvider{err: errors.New("build failed")}
	cfg := newTestConfig()
	srv := newTestServer(cfg, stubReporter{}, nil, WithOpenAPIProvider(provider))

	req := httptest.NewRequest(http.MethodGet, "/__mock/openapi.json", nil)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRecoverTurnsPanicsIntoErrorEnvelope(t *testing.T) {
	srv := newTestServer(newTestConfig(), stubReporter{}, nil, WithObserver(func(handler.Observation) {
		panic("observer exploded")
	}))

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"error":"Internal server error"}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestClientAddressPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientAddress(req); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	if got := clientAddress(req); got != "203.0.113.7" {
		t.Fatalf("expected forwarded host, got %q", got)
	}
}

func TestServerSupportsH2C(t *testing.T) {
	cfg := newTestConfig()
	cfg.HTTP.ShutdownTimeout = mockconfig.DurationFrom(time.Second)

	srv := newTestServer(cfg, stubReporter{report: health.Report{Status: "ready"}}, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Serve(ctx, listener)
	}()

	t.Cleanup(func() {
		cancel()
		if err := <-serverErr; err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("http server exited with error: %v", err)
		}
	})

	time.Sleep(25 * time.Millisecond)

	tcpAddr := listener.Addr().(*net.TCPAddr)
	if srv.Addr() != listener.Addr().String() {
		t.Fatalf("expected bound address recorded, got %q", srv.Addr())
	}
	target := fmt.Sprintf("http://%s/users/5", net.JoinHostPort("127.0.0.1", strconv.Itoa(tcpAddr.Port)))

	client := &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.Dial(network, addr)
			},
		},
		Timeout: 2 * time.Second,
	}

	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("http2 client request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.ProtoMajor != 2 {
		t.Fatalf("expected HTTP/2 response, got %s", resp.Proto)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != `{"id":1}` {
		t.Fatalf("unexpected body %q", body)
	}
}
