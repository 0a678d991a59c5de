package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/aegis/internal/auth"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig decides which peers may set forwarding headers. Nil means RemoteAddr only.
	IPConfig *pkghttp.IPConfig
}

// DefaultRateLimit returns the limit applied when none is configured
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 600}
}

// RateLimitByIP limits requests per client IP. Forwarding headers are only read from
// trusted proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		limit(config),
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitBySubject limits authenticated requests per token subject, falling back to the
// client IP. Must be mounted after auth.AuthMiddleware.
func RateLimitBySubject(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		limit(config),
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if subject := auth.Subject(r); subject != "" {
				return "subject:" + subject, nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limit(config RateLimitConfig) int {
	if config.RequestsPerMinute <= 0 {
		return DefaultRateLimit().RequestsPerMinute
	}
	return config.RequestsPerMinute
}

func limitExceeded(w http.ResponseWriter, _ *http.Request) {
	pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
}
