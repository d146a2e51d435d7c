package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
)

const (
	// limiterIdleTTL drops the bucket of an address idle this long.
	limiterIdleTTL         = 15 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewIPRateLimiter allows perMinute requests per address with bursts of burst.
func NewIPRateLimiter(perMinute, burst int) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: cache.New(limiterIdleTTL, limiterCleanupInterval),
		r:        rate.Every(time.Minute / time.Duration(perMinute)),
		b:        burst,
	}
}

// GetLimiter returns the bucket for ip, creating it on first use.
// Every lookup extends the bucket's idle TTL.
func (l *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	if v, ok := l.limiters.Get(ip); ok {
		limiter := v.(*rate.Limiter) //nolint:forcetypeassert // only limiters are stored
		l.limiters.SetDefault(ip, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(l.r, l.b)
	if err := l.limiters.Add(ip, limiter, cache.DefaultExpiration); err != nil {
		// Another request created it first.
		if v, ok := l.limiters.Get(ip); ok {
			return v.(*rate.Limiter) //nolint:forcetypeassert // only limiters are stored
		}
	}
	return limiter
}

// Len returns the number of tracked addresses.
func (l *IPRateLimiter) Len() int {
	return l.limiters.ItemCount()
}

// rateLimitMiddleware answers 429 once a client exhausts its bucket.
// Health and Prometheus endpoints are never limited.
func rateLimitMiddleware(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := NewIPRateLimiter(cfg.RequestsPerMinute, cfg.Burst)
	retryAfter := strconv.Itoa(max(1, 60/cfg.RequestsPerMinute))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v1/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.GetLimiter(clientIP(r)).Allow() {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, ErrCodeTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the host part of RemoteAddr. Forwarding headers are ignored.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
