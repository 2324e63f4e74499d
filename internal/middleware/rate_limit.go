package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultLoginRateLimit throttles the interactive login endpoints. The
// account lockout counter is the real guard; this just blunts spraying.
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

// DefaultTokenRateLimit throttles the token endpoint. Device-flow clients
// poll it, so the ceiling is higher than the login one.
func DefaultTokenRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 60}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		}),
	)
}
