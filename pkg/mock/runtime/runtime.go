// Package runtime composes configuration, the fixture store, and the HTTP
// server into a controllable lifecycle suitable for CLIs, tests, or SDK
// embedding. It exposes helpers to start, wait, reload, and shutdown the
// mock server, plus an optional admin control plane.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/theroutercompany/mock_api/internal/platform/health"
	pkglog "github.com/theroutercompany/mock_api/pkg/log"
	"github.com/theroutercompany/mock_api/pkg/mock/auth"
	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
	mockmetrics "github.com/theroutercompany/mock_api/pkg/mock/metrics"
	mockserver "github.com/theroutercompany/mock_api/pkg/mock/server"
	"github.com/theroutercompany/mock_api/pkg/mock/watch"
)

var (
	// ErrAlreadyRunning indicates the runtime is already serving requests.
	ErrAlreadyRunning = errors.New("runtime already running")
	// ErrNotRunning indicates the runtime has not been started yet.
	ErrNotRunning = errors.New("runtime not running")
	// ErrReloadWhileRunning is returned when attempting to reload while serving.
	ErrReloadWhileRunning = errors.New("cannot reload runtime while it is running")
)

// Runtime orchestrates the mock server lifecycle based on configuration.
type Runtime struct {
	mu sync.Mutex

	cfg           mockconfig.Config
	root          string
	store         *fixture.Store
	server        *mockserver.Server
	checker       *health.Checker
	registry      *mockmetrics.Registry
	authenticator *auth.Authenticator
	events        *eventHub
	reloadFn      func() (mockconfig.Config, error)
	adminAllow    []*net.IPNet
	bootTime      time.Time
	logger        pkglog.Logger
	lastLint      fixture.Report

	baseCtx    context.Context
	cancel     context.CancelFunc
	errCh      chan error
	adminSrv   *http.Server
	adminErrCh chan error
	adminAddr  string
	watchDone  chan struct{}
}

// Option customises runtime behaviour.
type Option func(*Runtime)

// WithReloadFunc registers a callback invoked by the admin server when a reload is requested.
func WithReloadFunc(fn func() (mockconfig.Config, error)) Option {
	return func(r *Runtime) {
		r.reloadFn = fn
	}
}

// WithLogger overrides the logger used by the runtime and underlying server.
func WithLogger(logger pkglog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a runtime from the provided configuration. The fixture
// root must exist.
func New(cfg mockconfig.Config, opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		cfg:        cfg,
		adminAllow: parseAllowList(cfg.Admin.Allow),
		bootTime:   time.Now(),
		logger:     pkglog.Shared(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(rt)
		}
	}

	if rt.logger == nil {
		rt.logger = pkglog.Shared()
	}
	rt.events = newEventHub(rt.logger)

	comps, err := buildComponents(cfg, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.apply(cfg, comps)
	rt.relint()

	return rt, nil
}

// Start begins serving in the background until the supplied context is cancelled or Shutdown is called.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errCh != nil {
		return ErrAlreadyRunning
	}

	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.baseCtx = runCtx
	r.cancel = cancel
	r.errCh = make(chan error, 1)

	server := r.server
	errCh := r.errCh
	go func() {
		err := server.Start(runCtx)
		errCh <- err
		close(errCh)
	}()

	if r.cfg.Watch.Enabled {
		if err := r.startWatcher(runCtx); err != nil {
			r.logger.Errorw("fixture watcher failed to start", "error", err, "root", r.root)
		}
	}

	if r.cfg.Admin.Enabled {
		if err := r.startAdminServer(runCtx); err != nil {
			r.logger.Errorw("admin server failed to start", "error", err, "listen", r.cfg.Admin.Listen)
		}
	} else {
		r.adminAddr = ""
	}

	return nil
}

// Wait blocks until the runtime stops and returns the terminal error, normalising context cancellation to nil.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	errCh := r.errCh
	adminErrCh := r.adminErrCh
	r.mu.Unlock()

	if errCh == nil {
		return ErrNotRunning
	}

	var err error
	select {
	case err = <-errCh:
	case adminErr := <-adminErrCh:
		if adminErr != nil && !errors.Is(adminErr, http.ErrServerClosed) {
			r.logger.Errorw("admin server stopped with error", "error", adminErr)
		}
		err = <-errCh
	}

	if errors.Is(err, context.Canceled) {
		err = nil
	}

	r.mu.Lock()
	r.errCh = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.adminSrv != nil {
		_ = r.adminSrv.Shutdown(context.Background())
	}
	r.adminSrv = nil
	r.adminErrCh = nil
	r.adminAddr = ""
	watchDone := r.watchDone
	r.watchDone = nil
	r.mu.Unlock()

	if watchDone != nil {
		<-watchDone
	}
	r.events.closeAll()

	return err
}

// Run starts the runtime and waits for completion.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.Wait()
}

// Shutdown gracefully stops the runtime if it is running.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.server == nil || r.errCh == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if r.cancel != nil {
		r.cancel()
	}

	if r.adminSrv != nil {
		_ = r.adminSrv.Shutdown(ctx)
		r.adminSrv = nil
		r.adminErrCh = nil
	}

	return r.server.Shutdown(ctx)
}

// Reload rebuilds runtime dependencies using the supplied configuration. The runtime must not be running.
func (r *Runtime) Reload(cfg mockconfig.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errCh != nil {
		return ErrReloadWhileRunning
	}

	comps, err := buildComponents(cfg, r.logger)
	if err != nil {
		return err
	}

	r.apply(cfg, comps)
	r.adminAllow = parseAllowList(cfg.Admin.Allow)
	r.relintLocked()

	return nil
}

// Config returns the runtime's current configuration.
func (r *Runtime) Config() mockconfig.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Addr returns the bound address of the mock server while running.
func (r *Runtime) Addr() string {
	r.mu.Lock()
	server := r.server
	r.mu.Unlock()
	return server.Addr()
}

// AdminAddr returns the bound admin server address when enabled.
func (r *Runtime) AdminAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adminAddr
}

// Lint re-lints the fixture tree and refreshes the catalog metrics.
func (r *Runtime) Lint() fixture.Report {
	return r.relint()
}

type components struct {
	root          string
	store         *fixture.Store
	server        *mockserver.Server
	checker       *health.Checker
	registry      *mockmetrics.Registry
	authenticator *auth.Authenticator
}

func buildComponents(cfg mockconfig.Config, logger pkglog.Logger) (components, error) {
	root, err := cfg.FixtureRoot()
	if err != nil {
		return components{}, fmt.Errorf("resolve fixture root: %w", err)
	}

	store, err := fixture.Open(root, cfg.StoreOptions()...)
	if err != nil {
		return components{}, err
	}

	var authenticator *auth.Authenticator
	if cfg.Admin.Enabled {
		authenticator, err = auth.New(cfg.Admin)
		if err != nil && !errors.Is(err, auth.ErrNotConfigured) {
			return components{}, fmt.Errorf("admin auth: %w", err)
		}
	}

	checker := health.NewChecker([]health.Check{
		health.FixtureRoot(store.FS()),
		health.Lint(store),
	}, 2*time.Second)

	var registry *mockmetrics.Registry
	if cfg.Metrics.Enabled {
		registry = mockmetrics.NewRegistry()
	}

	if logger == nil {
		logger = pkglog.Shared()
	}

	srv := mockserver.New(cfg, store, checker, registry, mockserver.WithLogger(logger))
	return components{
		root:          root,
		store:         store,
		server:        srv,
		checker:       checker,
		registry:      registry,
		authenticator: authenticator,
	}, nil
}

func (r *Runtime) apply(cfg mockconfig.Config, comps components) {
	r.cfg = cfg
	r.root = comps.root
	r.store = comps.store
	r.server = comps.server
	r.checker = comps.checker
	r.registry = comps.registry
	r.authenticator = comps.authenticator
}

func (r *Runtime) relint() fixture.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relintLocked()
}

func (r *Runtime) relintLocked() fixture.Report {
	report := r.store.Lint()
	errs, warnings := report.Errors(), report.Warnings()
	r.server.FixtureMetrics().SetCatalog(report.Routes, len(errs), len(warnings))
	for _, issue := range errs {
		r.logger.Errorw("fixture lint error", "path", issue.Path, "message", issue.Message)
	}
	for _, issue := range warnings {
		r.logger.Warnw("fixture lint warning", "path", issue.Path, "message", issue.Message)
	}
	r.lastLint = report
	return report
}

func (r *Runtime) startWatcher(ctx context.Context) error {
	w, err := watch.New(r.root,
		watch.WithDebounce(r.cfg.Watch.Debounce.AsDuration()),
		watch.WithLogger(r.logger),
	)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	r.watchDone = done
	go func() {
		defer close(done)
		if err := w.Run(ctx, r.onFixturesChanged); err != nil {
			r.logger.Errorw("fixture watcher stopped", "error", err)
		}
	}()
	r.logger.Infow("watching fixtures", "root", w.Root())
	return nil
}

func (r *Runtime) onFixturesChanged(batch []watch.Event) {
	report := r.relint()
	r.logger.Infow("fixtures changed", "events", len(batch), "routes", report.Routes, "lintErrors", len(report.Errors()))
	r.events.broadcast(batch)
}
