package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"

	"pubsrv/internal/errors"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "requestID"

	// RequestIDHeader carries the request id in both directions
	RequestIDHeader = "X-Request-ID"
)

// handlerFunc is an http.HandlerFunc that may fail. A returned error ends
// at the fault boundary.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts h to http.Handler, turning a returned error into a 500.
func (s *Server) handle(h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw, started := trackStarted(w)
		if err := h(tw, r); err != nil {
			reportFault(s.logger, tw, r, started(), err, nil)
		}
	})
}

// RecoveryMiddleware recovers from panics, logs them with the stack and
// answers 500.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw, started := trackStarted(w)
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				err, ok := p.(error)
				if !ok {
					err = fmt.Errorf("%v", p)
				}
				reportFault(logger, tw, r, started(), errors.Wrap(errors.HandlerFault, err, "panic"), debug.Stack())
			}()

			next.ServeHTTP(tw, r)
		})
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" || len(reqID) > 128 {
				reqID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), requestIDKey, reqID)
			r = r.WithContext(ctx)

			w.Header().Set(RequestIDHeader, reqID)

			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// reportFault logs err with its trace and, when nothing has been sent yet,
// answers with the generic 500 body.
func reportFault(logger *slog.Logger, w http.ResponseWriter, r *http.Request, started bool, err error, stack []byte) {
	trace := fmt.Sprintf("%+v", err)
	if len(stack) > 0 {
		trace = string(stack)
	}
	logger.Error("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"requestID", GetRequestID(r.Context()),
		"code", string(errors.CodeOf(err)),
		"error", err.Error(),
		"responseStarted", started,
		"trace", trace,
	)

	if !started {
		WriteFault(w)
	}
}

// trackStarted wraps w and reports whether the status line has been sent.
func trackStarted(w http.ResponseWriter) (http.ResponseWriter, func() bool) {
	started := false
	wrapped := httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if code >= 200 {
					started = true
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(p []byte) (int, error) {
				started = true
				return next(p)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				started = true
				return next(src)
			}
		},
	})
	return wrapped, func() bool { return started }
}
