package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/metrics"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// RateLimitConfig holds HTTP throttling configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// RateLimitByIP throttles requests per client IP. Forwarded headers count only
// when the direct peer is a trusted proxy.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded("ip")),
	)
}

// RateLimitBySubject throttles authenticated callers by token subject, falling
// back to the client IP. It must run after auth.BearerMiddleware.
func RateLimitBySubject(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if subject := auth.Subject(r); subject != "" {
				return "sub:" + subject, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded("subject")),
	)
}

func limitExceeded(scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.RateLimitHitsTotal.WithLabelValues("http_" + scope).Inc()
		pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
	}
}
