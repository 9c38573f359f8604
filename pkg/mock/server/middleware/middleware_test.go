package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/cors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	level  string
	msg    string
	fields []any
}

type recordingLogger struct{ entries []entry }

func (l *recordingLogger) Infow(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *recordingLogger) Warnw(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *recordingLogger) Errorw(msg string, kv ...any) { l.add("error", msg, kv) }

func (l *recordingLogger) add(level, msg string, kv []any) {
	l.entries = append(l.entries, entry{level: level, msg: msg, fields: kv})
}

func (e entry) field(key string) any {
	for i := 0; i+1 < len(e.fields); i += 2 {
		if e.fields[i] == key {
			return e.fields[i+1]
		}
	}
	return nil
}

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte("body"))
	})
}

type problemCall struct {
	status  int
	title   string
	traceID string
	path    string
}

func capturingReject(calls *[]problemCall) Reject {
	trace := func(context.Context) string { return "trace-1" }
	return Problems(trace, func(w http.ResponseWriter, status int, title, _, traceID, instance string) {
		*calls = append(*calls, problemCall{status: status, title: title, traceID: traceID, path: instance})
		w.WriteHeader(status)
	})
}

func TestChainRunsFirstMiddlewareOutermost(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(status(http.StatusOK), mark("a"), nil, mark("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestBodyLimitRejectsDeclaredLength(t *testing.T) {
	var calls []problemCall
	h := BodyLimit(4, capturingReject(&calls))(status(http.StatusOK))

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("too large"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Len(t, calls, 1)
	assert.Equal(t, problemCall{status: http.StatusRequestEntityTooLarge, title: "Payload Too Large", traceID: "trace-1", path: "/upload"}, calls[0])
}

func TestBodyLimitDisabledPassesThrough(t *testing.T) {
	h := BodyLimit(0, nil)(status(http.StatusCreated))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("anything")))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimitSkipsPreflight(t *testing.T) {
	var calls []problemCall
	deny := func(string, time.Time) bool { return false }
	h := RateLimit(deny, func(*http.Request) string { return "k" }, nil, capturingReject(&calls))(status(http.StatusNoContent))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/users", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Len(t, calls, 1)
	assert.Equal(t, "Too Many Requests", calls[0].title)
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	var calls []problemCall
	c := cors.New(cors.Options{AllowedOrigins: []string{"https://allowed.test"}})
	h := CORS(c, capturingReject(&calls))(status(http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", "https://allowed.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://allowed.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.Len(t, calls, 1)
}

func TestProblemsWithoutWriterFallsBackToText(t *testing.T) {
	rec := httptest.NewRecorder()
	Problems(nil, nil)(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusForbidden, "x", "y")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Forbidden")
}

func TestRecoverWritesErrorEnvelope(t *testing.T) {
	logger := &recordingLogger{}
	var message string
	write := func(w http.ResponseWriter, status int, msg string) {
		message = msg
		w.WriteHeader(status)
	}
	h := Recover(logger, write)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", message)
	require.Len(t, logger.entries, 1)
	assert.Equal(t, "boom", logger.entries[0].field("panic"))
}

func TestRecoverRepanicsAbortHandler(t *testing.T) {
	h := Recover(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingLevelsAndTracking(t *testing.T) {
	cases := []struct {
		code  int
		level string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warn"},
		{http.StatusInternalServerError, "error"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			logger := &recordingLogger{}
			var tracked int
			track := func(*http.Request) func(int, time.Duration) {
				return func(status int, _ time.Duration) { tracked = status }
			}
			extra := func(*http.Request) []any { return []any{"requestId", "req-1"} }

			h := Logging(logger, track, extra)(status(tc.code))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/1", nil))

			require.Len(t, logger.entries, 1)
			got := logger.entries[0]
			assert.Equal(t, tc.level, got.level)
			assert.Equal(t, tc.code, got.field("status"))
			assert.Equal(t, 4, got.field("bytesWritten"))
			assert.Equal(t, "req-1", got.field("requestId"))
			assert.Equal(t, tc.code, tracked)
		})
	}
}

func TestRequestMetadataEchoesIDs(t *testing.T) {
	ensure := func(r *http.Request) (*http.Request, string, string) { return r, "req-9", "trace-9" }
	rec := httptest.NewRecorder()
	RequestMetadata(ensure)(status(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "req-9", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "trace-9", rec.Header().Get("X-Trace-Id"))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders()(status(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
