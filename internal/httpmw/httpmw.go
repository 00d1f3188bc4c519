// Package httpmw composes the gateway's request pipeline: tracing, access
// logging, the shared API key check, and the per-client rate limit, applied
// in that order.
package httpmw

import (
	"net/http"
	"time"

	"github.com/agentmesh/mesh/internal/auth"
	"github.com/agentmesh/mesh/internal/logging"
	"github.com/agentmesh/mesh/internal/observability"
	"github.com/agentmesh/mesh/internal/ratelimit"
)

// Chain composes the gateway's full middleware stack around next: tracing
// (outermost), access logging, the API key check, then rate limiting
// (innermost, closest to the handler), so an unauthenticated request is
// rejected with a cheap 401 before it ever consumes a rate-limit slot.
func Chain(next http.Handler, apiKey string, limiter *ratelimit.Limiter, publicPaths []string) http.Handler {
	h := next
	h = ratelimit.Middleware(limiter, publicPaths)(h)
	h = auth.Middleware(apiKey, publicPaths)(h)
	h = AccessLog(h)
	h = observability.HTTPMiddleware(h)
	return h
}

// AccessLog logs one structured line per request via logging.Op(), mirroring
// the teacher's request-scoped slog usage.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		traceID := observability.GetTraceID(r.Context())
		logger := logging.Op()
		if traceID != "" {
			logger = logging.OpWithTrace(traceID, observability.GetSpanID(r.Context()))
		}

		next.ServeHTTP(rw, r)

		logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
