package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/supercopa/totem/internal/errors"
	internalhttputil "github.com/supercopa/totem/internal/httputil"
	"github.com/supercopa/totem/internal/logging"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware adds a trace ID to every request context.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Handler assigns the trace id and turns panics into 500 responses.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)
		r = r.WithContext(ctx)

		defer func() {
			if rec := recover(); rec != nil {
				m.logger.WithContext(ctx).WithField("panic", rec).
					WithField("stack", string(debug.Stack())).
					Error("Recovered from panic")
				internalhttputil.WriteServiceError(w, r, errors.Internal("Internal server error", nil))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
