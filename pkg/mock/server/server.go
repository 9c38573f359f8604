// Package server exposes the HTTP server that replays fixtures, combining
// the middleware chain, the operational endpoints under /__mock/, and
// lifecycle helpers. Callers typically use it via the runtime package but
// can embed it directly when they need fine-grained control.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/theroutercompany/mock_api/internal/platform/health"
	pkglog "github.com/theroutercompany/mock_api/pkg/log"
	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
	"github.com/theroutercompany/mock_api/pkg/mock/handler"
	mockmetrics "github.com/theroutercompany/mock_api/pkg/mock/metrics"
	"github.com/theroutercompany/mock_api/pkg/mock/openapi"
	"github.com/theroutercompany/mock_api/pkg/mock/problem"
	"github.com/theroutercompany/mock_api/pkg/mock/server/middleware"
)

// ReservedPrefix is the path prefix for operational endpoints. Requests
// under it never reach the fixture tree.
const ReservedPrefix = "/__mock/"

type readinessReporter interface {
	Readiness(ctx context.Context) health.Report
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithOpenAPIProvider overrides the default OpenAPI document provider.
func WithOpenAPIProvider(provider openapi.DocumentProvider) Option {
	return func(s *Server) {
		s.openapiProvider = provider
	}
}

// WithLogger overrides the logger used by the server. Defaults to the global logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers an extra observer for fixture lookups.
func WithObserver(observer handler.Observer) Option {
	return func(s *Server) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// Server coordinates HTTP routes and lifecycle hooks.
type Server struct {
	cfg             mockconfig.Config
	store           *fixture.Store
	ops             *http.ServeMux
	mock            http.Handler
	httpServer      *http.Server
	handler         http.Handler
	healthChecker   readinessReporter
	bootTime        time.Time
	metricsHandler  http.Handler
	fixtureMetrics  *mockmetrics.FixtureMetrics
	requestMetrics  *mockmetrics.HTTPMetrics
	rateLimiter     *rateLimiter
	cors            *cors.Cors
	openapiProvider openapi.DocumentProvider
	observers       []handler.Observer
	logger          pkglog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New constructs a server replaying fixtures from store.
func New(cfg mockconfig.Config, store *fixture.Store, checker readinessReporter, registry *mockmetrics.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:           cfg,
		store:         store,
		ops:           http.NewServeMux(),
		healthChecker: checker,
		bootTime:      time.Now().UTC(),
		rateLimiter:   newRateLimiter(cfg.RateLimit.Window.AsDuration(), cfg.RateLimit.Max),
		logger:        pkglog.Shared(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.logger == nil {
		s.logger = pkglog.Shared()
	}

	if cfg.CORS.Enabled {
		s.cors = buildCORS(cfg.CORS.AllowedOrigins)
	}

	if registry != nil && cfg.Metrics.Enabled {
		s.metricsHandler = registry.Handler()
		s.requestMetrics = registry.HTTP
		s.fixtureMetrics = registry.Fixtures
	}

	if s.openapiProvider == nil && store != nil {
		s.openapiProvider = openapi.NewGenerator(store,
			openapi.WithVersion(cfg.Version),
			openapi.WithServerURL(fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)),
		)
	}

	s.mock = handler.New(store, handler.WithLogger(s.logger), handler.WithObserver(s.observe))
	s.mountRoutes()

	var tracker middleware.TrackFunc
	if s.requestMetrics != nil {
		tracker = requestTracker(s.requestMetrics)
	}
	reject := middleware.Problems(traceIDFromContext, problem.Write)
	mws := []middleware.Middleware{
		middleware.RequestMetadata(ensureRequestIDs),
		middleware.Logging(s.logger, tracker, accessLogFields),
		middleware.Recover(s.logger, problem.WriteError),
		middleware.CORS(s.cors, reject),
	}
	if s.rateLimiter != nil {
		mws = append(mws, middleware.RateLimit(s.rateLimiter.allow, clientKey, time.Now, reject))
	}
	mws = append(mws, middleware.BodyLimit(cfg.HTTP.MaxBodyBytes, reject))

	chain := middleware.Chain(http.HandlerFunc(s.route), mws...)
	http2Server := &http2.Server{}
	chain = h2c.NewHandler(chain, http2Server)

	s.handler = chain
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureServer(s.httpServer, http2Server); err != nil {
		s.logger.Errorw("failed to configure http2 server", "error", err)
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// FixtureMetrics returns the fixture collectors, or nil when metrics are disabled.
func (s *Server) FixtureMetrics() *mockmetrics.FixtureMetrics {
	return s.fixtureMetrics
}

// Addr returns the bound listener address once Start has been called.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Start begins serving HTTP requests until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	if s.httpServer == nil {
		return errors.New("http server not initialised")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.logger.Errorw("http server failed to listen", "error", err, "addr", s.httpServer.Addr)
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the context is cancelled or an error occurs.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	root, err := s.cfg.FixtureRoot()
	if err != nil {
		root = s.cfg.Fixtures.Root
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("mock server listening", "addr", ln.Addr().String(), "fixtures", root)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout.AsDuration())
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("http server shutdown failed", "error", err)
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			s.logger.Errorw("http server stopped with error", "error", err)
		}
		return err
	}
}

// Shutdown gracefully stops the HTTP server using the provided context.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if isReservedPath(r.URL.Path) {
		s.ops.ServeHTTP(w, r)
		return
	}
	s.mock.ServeHTTP(w, r)
}

func isReservedPath(p string) bool {
	return p == strings.TrimSuffix(ReservedPrefix, "/") || strings.HasPrefix(p, ReservedPrefix)
}

func (s *Server) mountRoutes() {
	secure := middleware.SecurityHeaders()
	s.ops.Handle(ReservedPrefix+"health", secure(http.HandlerFunc(s.handleHealth)))
	s.ops.Handle(ReservedPrefix+"readyz", secure(http.HandlerFunc(s.handleReadiness)))
	s.ops.Handle(ReservedPrefix+"routes", secure(http.HandlerFunc(s.handleRoutes)))
	if s.openapiProvider != nil {
		s.ops.Handle(ReservedPrefix+"openapi.json", secure(http.HandlerFunc(s.handleOpenAPI)))
	}
	if s.metricsHandler != nil {
		s.ops.Handle(ReservedPrefix+"metrics", s.metricsHandler)
	}
	s.ops.Handle("/", secure(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, http.StatusNotFound, "Not Found", "Unknown operational endpoint", traceIDFromContext(r.Context()), r.URL.Path)
	})))
}

func (s *Server) observe(o handler.Observation) {
	s.fixtureMetrics.ObserveLookup(o.Method, string(o.Outcome), o.Elapsed)
	if o.Outcome == handler.OutcomeHit {
		s.logger.Debugw("fixture served", "method", o.Method, "path", o.Path, "fixture", o.Match.File, "fallback", o.Match.Fallback)
	}
	for _, observer := range s.observers {
		observer(o)
	}
}

func clientKey(r *http.Request) string {
	addr := clientAddress(r)
	if addr == "" {
		return "global"
	}
	return addr
}

func accessLogFields(r *http.Request) []any {
	var fields []any
	if rid := requestIDFromContext(r.Context()); rid != "" {
		fields = append(fields, "requestId", rid)
	}
	if tid := traceIDFromContext(r.Context()); tid != "" {
		fields = append(fields, "traceId", tid)
	}
	if addr := clientAddress(r); addr != "" {
		fields = append(fields, "remoteAddr", addr)
	}
	return fields
}

func clientAddress(r *http.Request) string {
	if r == nil {
		return ""
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// buildCORS allows every origin when none are listed. Preflights pass
// through so OPTIONS fixtures still answer them.
func buildCORS(origins []string) *cors.Cors {
	allowAll := len(origins) == 0

	allowed := make(map[string]struct{})
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			break
		}
		allowed[o] = struct{}{}
	}

	return cors.New(cors.Options{
		AllowedMethods:     []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:     []string{"*"},
		ExposedHeaders:     []string{"X-Request-Id", "X-Trace-Id"},
		OptionsPassthrough: true,
		AllowOriginRequestFunc: func(_ *http.Request, origin string) bool {
			if origin == "" || allowAll {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, requestID, _ := ensureRequestIDs(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

	response := struct {
		Status    string  `json:"status"`
		Uptime    float64 `json:"uptime"`
		Timestamp string  `json:"timestamp"`
		Version   string  `json:"version,omitempty"`
	}{
		Status:    "ok",
		Uptime:    time.Since(s.bootTime).Seconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.cfg.Version,
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	var requestID, traceID string
	r, requestID, traceID = ensureRequestIDs(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

	report := health.Report{Status: "ready", CheckedAt: time.Now().UTC()}
	if s.healthChecker != nil {
		report = s.healthChecker.Readiness(r.Context())
	}

	statusCode := http.StatusOK
	if report.Status != "ready" {
		statusCode = http.StatusServiceUnavailable
	}

	response := struct {
		Status    string               `json:"status"`
		CheckedAt time.Time            `json:"checkedAt"`
		Checks    []health.CheckReport `json:"checks"`
		RequestID string               `json:"requestId,omitempty"`
		TraceID   string               `json:"traceId,omitempty"`
	}{
		Status:    report.Status,
		CheckedAt: report.CheckedAt,
		Checks:    report.Checks,
		RequestID: requestID,
		TraceID:   traceID,
	}

	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

type routeView struct {
	Method  string   `json:"method"`
	Pattern string   `json:"pattern"`
	File    string   `json:"file"`
	Params  []string `json:"params,omitempty"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		problem.Write(w, http.StatusServiceUnavailable, "Routes Unavailable", "Fixture store not configured", traceIDFromContext(r.Context()), r.URL.Path)
		return
	}
	routes, err := s.store.Routes()
	if err != nil {
		problem.Write(w, http.StatusInternalServerError, "Routes Unavailable", err.Error(), traceIDFromContext(r.Context()), r.URL.Path)
		return
	}

	views := make([]routeView, 0, len(routes))
	for _, route := range routes {
		views = append(views, routeView{
			Method:  route.Method,
			Pattern: route.Pattern,
			File:    route.File,
			Params:  route.Params(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Wildcard string      `json:"wildcard"`
		Routes   []routeView `json:"routes"`
	}{Wildcard: s.store.Wildcard(), Routes: views})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	data, err := s.openapiProvider.Document(r.Context())
	if err != nil {
		traceID := traceIDFromContext(r.Context())
		problem.Write(w, http.StatusServiceUnavailable, "OpenAPI Unavailable", err.Error(), traceID, r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warnw("failed to write openapi response", "error", err)
	}
}
