// Package middleware provides the HTTP middleware stack of the operator API.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/httpkit"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	// maxRequestIDLen bounds caller-supplied ids before they reach the logs.
	maxRequestIDLen = 64
)

// statusRecorder remembers the first status written and the body size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status != 0 {
		return
	}
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// RequestID keeps a well-formed X-Request-ID from the caller or mints a uuid,
// echoes it, and stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		if c > unicode.MaxASCII || !unicode.IsPrint(c) || c == ' ' {
			return false
		}
	}
	return true
}

// BulletinScope tags the request context with the bulletin named by the
// route parameter so handler and store logs carry bulletin_id.
func BulletinScope(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := chi.URLParam(r, param); id != "" {
				r = r.WithContext(logger.ContextWithBulletinID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Logging writes one line per request at a level chosen by status: 5xx error,
// 4xx warn, else info. The route is the chi pattern, so bulletin ids do not
// fan out into distinct paths.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			reqLog := log.FromContext(r.Context())
			logFn := reqLog.Info
			switch status := rec.code(); {
			case status >= 500:
				logFn = reqLog.Error
			case status >= 400:
				logFn = reqLog.Warn
			}
			logFn("request",
				"method", r.Method,
				"route", route,
				"status", rec.code(),
				"size", rec.size,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Recovery turns a handler panic into a 500 error envelope.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
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
				log.FromContext(r.Context()).Error("panic recovered",
					"panic", rec,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				httpkit.WriteError(w, r, errors.New(errors.CodeInternal, "panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandlerFunc is a handler that reports failure by returning an error.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request) error

// WrapHandler adapts fn to http.HandlerFunc. A returned error is logged with
// its code and fields, with the stack for 5xx, and written as an envelope.
func WrapHandler(log *logger.Logger, fn ErrorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		status := errors.GetHTTPStatus(err)
		attrs := []any{"code", string(errors.GetCode(err)), "status", status, "error", err.Error()}
		for k, v := range errors.GetFields(err) {
			attrs = append(attrs, k, v)
		}
		reqLog := log.FromContext(r.Context())
		if status >= 500 {
			var e *errors.Error
			if errors.As(err, &e) && len(e.Stack) > 0 {
				attrs = append(attrs, "stack", e.StackTrace())
			}
			reqLog.Error("handler failed", attrs...)
		} else {
			reqLog.Warn("handler rejected request", attrs...)
		}

		httpkit.WriteError(w, r, err)
	}
}
