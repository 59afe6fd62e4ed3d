package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/metrics"
)

// withOriginVerify rejects requests lacking the x-origin-verify header that
// the CDN injects. An empty secret disables the check.
func withOriginVerify(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("x-origin-verify") != secret {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
			httpError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMetrics emits RequestLatencyMs and RequestCount per endpoint.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		metrics.New().
			Dimension("Endpoint", normalizeEndpoint(r.URL.Path)).
			Duration("RequestLatencyMs", start).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Flush()
	})
}

// normalizeEndpoint keeps job IDs out of metric dimensions.
func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, jobsPrefix):
		return jobsPrefix + "{id}"
	case path == "/api/health", path == "/api/pv/submit", path == "/api/pv/quality-check",
		path == "/api/admin/decision", path == "/api/rag/stats":
		return path
	default:
		return "other"
	}
}
