package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig tunes per-client admission limiting. Submits are
// long-lived requests, so the limiter guards the rate at which a client may
// open new ones, not how many it holds in flight.
type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	// IdleExpiry is how long a client bucket survives without a request
	// before it is pruned.
	IdleExpiry time.Duration
}

// DefaultRateLimiterConfig returns production defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 120,
		Burst:             20,
		IdleExpiry:        10 * time.Minute,
	}
}

// bucket is one client's token state. Tokens refill lazily on each request.
type bucket struct {
	tokens float64
	last   time.Time
}

// RateLimiter admits requests per client at a steady rate with a burst
// allowance. Stale buckets are swept opportunistically, so no background
// goroutine is needed.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	expiry  time.Duration
	swept   time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(cfg.Burst),
		expiry:  cfg.IdleExpiry,
		swept:   time.Now(),
	}
}

// Allow reports whether a request from the client is admitted now.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.swept) > rl.expiry {
		for id, b := range rl.buckets {
			if now.Sub(b.last) > rl.expiry {
				delete(rl.buckets, id)
			}
		}
		rl.swept = now
	}

	b, ok := rl.buckets[clientID]
	if !ok {
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets[clientID] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimitMiddleware guards the API with per-client admission limiting
// keyed by client IP.
func RateLimitMiddleware() gin.HandlerFunc {
	return RateLimitMiddlewareWithConfig(DefaultRateLimiterConfig())
}

// RateLimitMiddlewareWithConfig is RateLimitMiddleware with custom limits.
func RateLimitMiddlewareWithConfig(cfg RateLimiterConfig) gin.HandlerFunc {
	rl := NewRateLimiter(cfg)
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
