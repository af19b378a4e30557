package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/skyguard-io/skyguard/pkg/httputil"
	"github.com/skyguard-io/skyguard/pkg/observability"
)

// LoginRateLimiter throttles sign-in attempts per client address using a
// Redis fixed window, shared across instances. Redis being unreachable
// fails open: locking everyone out of sign-in is worse than briefly
// losing the throttle.
type LoginRateLimiter struct {
	redis   *redis.Client
	limit   int
	window  time.Duration
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewLoginRateLimiter creates a Redis-backed sign-in rate limiter.
func NewLoginRateLimiter(client *redis.Client, limit int, window time.Duration, log *observability.Logger, metrics *observability.Metrics) *LoginRateLimiter {
	return &LoginRateLimiter{
		redis:   client,
		limit:   limit,
		window:  window,
		log:     log,
		metrics: metrics,
	}
}

// Handler wraps sign-in endpoints with the rate limit.
func (rl *LoginRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r) {
			if rl.metrics != nil {
				rl.metrics.RateLimitedTotal.Inc()
			}
			httputil.WriteTooManyRequests(w, "too many sign-in attempts, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *LoginRateLimiter) allow(r *http.Request) bool {
	if rl.redis == nil {
		return true
	}

	key := fmt.Sprintf("signin:%s", httputil.ClientIP(r))
	ctx := r.Context()

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.WithError(err).Warn("rate limiter unavailable, failing open")
		return true
	}

	return incr.Val() <= int64(rl.limit)
}
