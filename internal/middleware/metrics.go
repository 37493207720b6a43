// Package middleware provides HTTP middleware for the sync service API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoolsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spoolsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spoolsync_http_errors_total",
			Help: "Total number of HTTP errors by type",
		},
		[]string{"type"},
	)
)

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)
			path := normalizePath(r)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

			if wrapped.status >= 400 {
				errorType := "client_error"
				if wrapped.status >= 500 {
					errorType = "server_error"
				}
				httpErrorsTotal.WithLabelValues(errorType).Inc()
			}
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths to prevent cardinality explosion.
func normalizePath(r *http.Request) string {
	// Prefer the chi route pattern when available.
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	path := r.URL.Path
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		// Numeric ids become a placeholder.
		if seg != "" && isNumeric(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
