package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wagerlab/escrowd/internal/domain"
)

// RateLimit returns middleware enforcing limit requests per window per
// caller. Callers are bucketed by the wallet address in X-Caller-Address
// when it is present, so one busy address cannot eat a shared NAT's quota;
// anonymous requests fall back to the client IP.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ratelimit:api:" + callerBucket(r)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				// Fail open: a broken limiter must not take the API down.
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerBucket picks the rate-limit bucket for a request: the caller's
// wallet address when declared, otherwise the client IP.
func callerBucket(r *http.Request) string {
	if caller := strings.TrimSpace(r.Header.Get("X-Caller-Address")); caller != "" {
		return "addr:" + strings.ToLower(caller)
	}
	return "ip:" + clientIP(r)
}

// clientIP resolves the client address through the standard proxy headers,
// falling back to the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
