// Package handler replays fixtures over HTTP. It resolves the request path
// against a fixture.Store, loads the fixture for the request method, and
// writes its status, headers, and body back verbatim.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	pkglog "github.com/theroutercompany/mock_api/pkg/log"
	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
	"github.com/theroutercompany/mock_api/pkg/mock/problem"
)

const (
	msgDirectoryNotFound = "Mock directory not found"
	msgInternalError     = "Internal server error"
	defaultContentType   = "text/html; charset=utf-8"
)

// Outcome classifies a single lookup.
type Outcome string

const (
	OutcomeHit           Outcome = "hit"
	OutcomeDirectoryMiss Outcome = "directory_miss"
	OutcomeMethodMiss    Outcome = "method_miss"
	OutcomeError         Outcome = "error"
)

// Observation is reported once per request.
type Observation struct {
	Method  string
	Path    string
	Outcome Outcome
	Match   fixture.Match
	Elapsed time.Duration
}

// Observer receives lookup observations, typically to record metrics.
type Observer func(Observation)

// Option customises a Handler.
type Option func(*Handler)

// WithLogger overrides the logger. Defaults to the shared logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver registers a callback invoked after every lookup.
func WithObserver(observer Observer) Option {
	return func(h *Handler) {
		h.observer = observer
	}
}

// Handler serves fixtures from a store. It is safe for concurrent use.
type Handler struct {
	store    *fixture.Store
	logger   pkglog.Logger
	observer Observer
	now      func() time.Time
}

// New constructs a Handler.
func New(store *fixture.Store, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		logger: pkglog.Shared(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// transport-owned headers a fixture may not override.
var reservedHeaders = map[string]struct{}{
	"transfer-encoding": {},
	"content-length":    {},
}

type reply struct {
	status   int
	headers  []fixture.Header
	body     []byte
	errorMsg string
}

// ServeHTTP implements http.Handler. Fixture misses are 404s; anything
// unexpected, including a panic while preparing the reply, becomes a 500.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	reqPath := requestPath(r)
	method := strings.ToUpper(r.Method)

	rep, match, outcome, err := h.prepare(reqPath, method)
	if err != nil {
		h.logger.Errorw("error serving mock", "error", err, "method", method, "path", reqPath, "fixture", match.File)
		outcome = OutcomeError
		rep = reply{status: http.StatusInternalServerError, errorMsg: msgInternalError}
	}

	if h.observer != nil {
		h.observer(Observation{
			Method:  method,
			Path:    reqPath,
			Outcome: outcome,
			Match:   match,
			Elapsed: h.now().Sub(start),
		})
	}

	if rep.errorMsg != "" {
		problem.WriteError(w, rep.status, rep.errorMsg)
		return
	}
	h.write(w, r, rep)
}

func (h *Handler) prepare(reqPath, method string) (rep reply, match fixture.Match, outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic preparing mock: %v", rec)
		}
	}()

	match, err = h.store.Lookup(fixture.SplitPath(reqPath), method)
	switch {
	case errors.Is(err, fixture.ErrDirectoryNotFound):
		return reply{status: http.StatusNotFound, errorMsg: msgDirectoryNotFound}, match, OutcomeDirectoryMiss, nil
	case errors.Is(err, fixture.ErrFixtureNotFound):
		msg := fmt.Sprintf("No mock for method %s at %s", method, reqPath)
		return reply{status: http.StatusNotFound, errorMsg: msg}, match, OutcomeMethodMiss, nil
	case err != nil:
		return reply{}, match, OutcomeError, err
	}

	resp, err := h.store.Load(match.File)
	if err != nil {
		return reply{}, match, OutcomeError, err
	}

	rep, err = render(resp)
	if err != nil {
		return reply{}, match, OutcomeError, fmt.Errorf("fixture %s: %w", match.File, err)
	}
	return rep, match, OutcomeHit, nil
}

// render turns a parsed fixture into the bytes to send. JSON bodies are
// re-serialised compactly; a body that claims JSON but does not parse is
// sent as-is.
func render(resp fixture.Response) (reply, error) {
	if !fixture.SendableStatus(resp.StatusCode) {
		return reply{}, fmt.Errorf("status code %d cannot be sent as a final response", resp.StatusCode)
	}

	body := []byte(resp.Body)
	if resp.IsJSON() && json.Valid(body) {
		if out, err := reencodeJSON(body); err == nil {
			body = out
		}
	}

	headers := resp.Headers
	if resp.Get("Content-Type") == "" {
		headers = append(append([]fixture.Header(nil), headers...), fixture.Header{Name: "Content-Type", Value: defaultContentType})
	}

	return reply{status: resp.StatusCode, headers: headers, body: body}, nil
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, rep reply) {
	hdr := w.Header()
	for _, field := range rep.headers {
		if _, reserved := reservedHeaders[strings.ToLower(field.Name)]; reserved {
			continue
		}
		if !httpguts.ValidHeaderFieldName(field.Name) || !httpguts.ValidHeaderFieldValue(field.Value) {
			h.logger.Warnw("skipping invalid fixture header", "header", field.Name, "path", r.URL.Path)
			continue
		}
		// names match case-insensitively; a later field overwrites an earlier one
		hdr.Set(field.Name, field.Value)
	}

	w.WriteHeader(rep.status)
	if r.Method == http.MethodHead || !bodyAllowed(rep.status) {
		return
	}
	if _, err := w.Write(rep.body); err != nil {
		h.logger.Warnw("failed to write mock body", "error", err, "path", r.URL.Path)
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// requestPath returns the path as the client sent it, without percent
// decoding, so an encoded slash never splits a segment.
func requestPath(r *http.Request) string {
	if r.URL == nil {
		return "/"
	}
	p := r.URL.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}
