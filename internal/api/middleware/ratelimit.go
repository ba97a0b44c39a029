package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"privacyguard/internal/config"
	"privacyguard/pkg/logger"
)

// RateLimitStore counts requests per client and window
type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error)
}

// RateLimiter returns middleware that enforces a per-client request quota.
// Store failures let the request through.
func RateLimiter(store RateLimitStore, cfg config.RateLimitConfig, log *logger.Logger) func(next http.Handler) http.Handler {
	log = log.WithComponent("ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || store == nil || cfg.RequestsPerMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			clientID := getClientID(r)

			allowed, remaining, resetTime, err := store.CheckRateLimit(
				r.Context(),
				clientID,
				int64(cfg.RequestsPerMinute),
				time.Minute,
			)
			if err != nil {
				log.Warn().Err(err).Str("client", clientID).Msg("rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				retry := int64(time.Until(resetTime).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID keys by API key when present, else by remote IP
func getClientID(r *http.Request) string {
	if apiKey := extractAPIKey(r); apiKey != "" {
		return fmt.Sprintf("key:%s", apiKey)
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return fmt.Sprintf("ip:%s", ip)
}
