// Rate limiter for endpoints that do real work per request, such as the
// admin step endpoint. Fixed-window counter per client address.
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter caps requests per client within a rolling window.
type RateLimiter struct {
	mu      sync.Mutex
	seen    map[string]*window
	maxRate int           // max requests per window
	period  time.Duration // window length
}

type window struct {
	count   int
	started time.Time
}

// NewRateLimiter creates a limiter allowing maxRate requests per period.
func NewRateLimiter(maxRate int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		seen:    make(map[string]*window),
		maxRate: maxRate,
		period:  period,
	}
	// Periodic cleanup of stale entries.
	go func() {
		for {
			time.Sleep(time.Hour)
			rl.sweep()
		}
	}()
	return rl
}

// Allow reports whether the client may proceed and counts the request.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.seen[client]
	if !ok || now.Sub(w.started) >= rl.period {
		rl.seen[client] = &window{count: 1, started: now}
		return true
	}

	if w.count < rl.maxRate {
		w.count++
		return true
	}
	return false
}

// RetryAfter returns how many seconds until the window resets for this client.
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.seen[client]
	if !ok {
		return 0
	}
	remaining := rl.period - time.Since(w.started)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for client, w := range rl.seen {
		if now.Sub(w.started) > 2*rl.period {
			delete(rl.seen, client)
		}
	}
}

// clientKey picks the identity to limit on: the first X-Forwarded-For hop
// when proxied, otherwise the remote address without its port.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware wraps a handler with rate limiting. Returns 429 if exceeded.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		if !rl.Allow(client) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(client)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
