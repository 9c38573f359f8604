// Package middleware holds the HTTP middleware chain wrapped around fixture
// replay and the operational endpoints.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Logger represents the subset of logging behaviour required by the middleware.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// ProblemWriter emits problem+json responses.
type ProblemWriter func(w http.ResponseWriter, status int, title, detail, traceID, instance string)

// ErrorWriter emits the flat {"error": "..."} envelope.
type ErrorWriter func(w http.ResponseWriter, status int, message string)

// EnsureIDs enriches the request with request/trace IDs.
type EnsureIDs func(*http.Request) (*http.Request, string, string)

// TrackFunc captures request metrics for a completed request.
type TrackFunc func(*http.Request) func(status int, elapsed time.Duration)

// AllowFunc reports whether key may make another request at now.
type AllowFunc func(key string, now time.Time) bool

// ClientKey derives the rate-limit key for a request.
type ClientKey func(*http.Request) string

// FieldsFunc returns extra key/value pairs for the access log.
type FieldsFunc func(*http.Request) []any

// Reject writes a refusal for r.
type Reject func(w http.ResponseWriter, r *http.Request, status int, title, detail string)

// Chain wraps h so that the first middleware listed runs first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// Problems builds a Reject that answers with problem+json, tagging the
// response with the trace ID found in the request context. A nil writer
// degrades to plain text.
func Problems(trace func(context.Context) string, write ProblemWriter) Reject {
	return func(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
		if write == nil {
			http.Error(w, http.StatusText(status), status)
			return
		}
		var tid string
		if trace != nil {
			tid = trace(r.Context())
		}
		write(w, status, title, detail, tid, r.URL.Path)
	}
}

func (reject Reject) send(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	if reject == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	reject(w, r, status, title, detail)
}

// RequestMetadata ensures every request has IDs and the response echoes them back.
func RequestMetadata(ensure EnsureIDs) Middleware {
	return func(next http.Handler) http.Handler {
		if ensure == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, requestID, traceID := ensure(r)
			w.Header().Set("X-Request-Id", requestID)
			if traceID != "" {
				w.Header().Set("X-Trace-Id", traceID)
			}
			next.ServeHTTP(w, req)
		})
	}
}

// SecurityHeaders applies hardening headers. Only the operational endpoints
// use it; fixture replies carry exactly the headers on disk.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimit refuses declared bodies over limit bytes and caps the rest.
func BodyLimit(limit int64, reject Reject) Middleware {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				reject.send(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large",
					fmt.Sprintf("Request body exceeds %d bytes", limit))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit throttles clients by key. Preflight requests are never limited.
func RateLimit(allow AllowFunc, key ClientKey, now func() time.Time, reject Reject) Middleware {
	return func(next http.Handler) http.Handler {
		if allow == nil || key == nil {
			return next
		}
		if now == nil {
			now = time.Now
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || allow(key(r), now()) {
				next.ServeHTTP(w, r)
				return
			}
			reject.send(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded")
		})
	}
}

// CORS applies handler and refuses requests from origins it does not allow.
func CORS(handler *cors.Cors, reject Reject) Middleware {
	return func(next http.Handler) http.Handler {
		if handler == nil {
			return next
		}
		wrapped := handler.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && !handler.OriginAllowed(r) {
				reject.send(w, r, http.StatusForbidden, "Not allowed by CORS",
					fmt.Sprintf("Origin %s is not allowed", origin))
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// Recover turns a panic anywhere below it into a 500 error envelope.
func Recover(logger Logger, write ErrorWriter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if logger != nil {
					logger.Errorw("panic serving request", "panic", fmt.Sprint(rec), "method", r.Method, "path", r.URL.Path)
				}
				if write == nil {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				write(w, http.StatusInternalServerError, "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logging writes one access log line per request and reports the outcome
// to track. Server errors log at error level, client errors at warn.
func Logging(logger Logger, track TrackFunc, extra FieldsFunc) Middleware {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var done func(int, time.Duration)
			if track != nil {
				done = track(r)
			}

			start := time.Now()
			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			if done != nil {
				done(rec.status, elapsed)
			}

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"durationMs", float64(elapsed.Microseconds()) / 1000.0,
				"bytesWritten", rec.bytes,
				"proto", r.Proto,
			}
			if extra != nil {
				fields = append(fields, extra(r)...)
			}

			log := logger.Infow
			if rec.status >= 500 {
				log = logger.Errorw
			} else if rec.status >= 400 {
				log = logger.Warnw
			}
			log("http request completed", fields...)
		})
	}
}

// recorder remembers the first status written and counts body bytes.
type recorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *recorder) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *recorder) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *recorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *recorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
