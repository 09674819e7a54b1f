package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimitConfig configures a token bucket: sustained rate is
// MaxRequests per WindowSeconds, with bursts up to Burst.
type RateLimitConfig struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// DefaultRateLimitConfig is the global per-IP REST limit: 100 requests per
// 15 minutes, per the wire-level contract.
var DefaultRateLimitConfig = RateLimitConfig{
	WindowSeconds: 900,
	MaxRequests:   100,
	Burst:         20,
}

// LoginRateLimitConfig bounds brute-force login attempts: 10 per minute.
var LoginRateLimitConfig = RateLimitConfig{
	WindowSeconds: 60,
	MaxRequests:   10,
	Burst:         3,
}

// RegisterRateLimitConfig bounds account creation: 5 per hour.
var RegisterRateLimitConfig = RateLimitConfig{
	WindowSeconds: 3600,
	MaxRequests:   5,
	Burst:         2,
}

type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: float64(capacity), capacity: float64(capacity), refillRate: refillRate, lastRefill: time.Now()}
}

func (tb *tokenBucket) allow() (ok bool, remaining int, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens), 0
	}

	secondsUntilNext := (1.0 - tb.tokens) / tb.refillRate
	return false, 0, time.Duration(secondsUntilNext * float64(time.Second))
}

// RateLimiter keys token buckets by client IP, since REST rate limiting is
// applied before authentication resolves a caller.
type RateLimiter struct {
	buckets map[string]*tokenBucket
	cfg     RateLimitConfig
	mu      sync.RWMutex
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{buckets: make(map[string]*tokenBucket), cfg: cfg}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	refillRate := float64(rl.cfg.MaxRequests) / float64(rl.cfg.WindowSeconds)
	b = newTokenBucket(rl.cfg.Burst, refillRate)
	rl.buckets[key] = b
	return b
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			stale := time.Since(b.lastRefill) > time.Hour
			b.mu.Unlock()
			if stale {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// clientIP returns the request's remote address, preferring the first hop
// of X-Forwarded-For when present (the deployment sits behind a proxy).
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i, c := range fwd {
			if c == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	return r.RemoteAddr
}

// RateLimitMiddleware enforces a per-IP token bucket on REST requests;
// WebSocket frames never pass through this middleware.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			b := limiter.bucket(ip)
			ok, remaining, retryAfter := b.allow()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !ok {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				log.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("rate limit exceeded")
				writeAppErr(w, r, rateLimitedErr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
