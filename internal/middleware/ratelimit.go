package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/supercopa/totem/internal/errors"
	internalhttputil "github.com/supercopa/totem/internal/httputil"
	"github.com/supercopa/totem/internal/logging"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   *logging.Logger
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond float64, burst int, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
		now:      time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = rl.now()
	return cl.limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetUserID(r.Context())
		if key == "" {
			key = clientIP(r)
		}

		if !rl.getLimiter(key).Allow() {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})

			limit := int(math.Ceil(float64(rl.rate)))
			w.Header().Set("Retry-After", strconv.Itoa(1))
			internalhttputil.WriteServiceError(w, r, errors.RateLimitExceeded(limit, "1s"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops limiters idle for longer than maxIdle and returns how many
// were removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for key, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
