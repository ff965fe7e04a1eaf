package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/otpdesk/internal/metrics"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
	pkglogger "github.com/BradenHooton/otpdesk/pkg/logger"
)

// SecureLogger logs each request with sensitive query strings redacted and
// records the request metrics. Paths are reported as route patterns so ids and
// device handles never reach the logs or metric labels.
func SecureLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			statusCode := wrapped.Status()
			if statusCode == 0 {
				statusCode = http.StatusOK
			}

			route := routePattern(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			path := route
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				path += "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path += "?" + r.URL.RawQuery
			}

			level := slog.LevelInfo
			if statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.LogAttrs(r.Context(), level, "http_request",
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", statusCode),
				slog.Int("bytes", wrapped.BytesWritten()),
				slog.String("duration", duration.String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				pkglogger.PresenceAttr("end_user", r.Header.Get(pkghttp.EndUserHeader)),
			)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
