package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RealIP returns the client address: CF-Connecting-IP, then the first
// X-Forwarded-For hop, then RemoteAddr. Header values that do not parse as an
// IP are ignored.
func RealIP(r *http.Request) string {
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("CF-Connecting-IP"))); ip != nil {
		return ip.String()
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// window holds the counts of the current fixed window and the one before it.
type window struct {
	start    time.Time
	cur      int
	prev     int
	duration time.Duration
}

// RateLimiter is an in-memory sliding-window limiter. A key's rate is the
// current window's count plus the previous window's count weighted by how
// much of it still overlaps the sliding interval.
type RateLimiter struct {
	mu   sync.Mutex
	keys map[string]*window
	now  func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		keys: make(map[string]*window),
		now:  time.Now,
	}
}

// Allow counts one request for key and reports whether it is within limit.
func (rl *RateLimiter) Allow(key string, limit int, per time.Duration) bool {
	ok, _ := rl.take(key, limit, per)
	return ok
}

func (rl *RateLimiter) take(key string, limit int, per time.Duration) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.keys[key]
	if w == nil || w.duration != per {
		w = &window{start: now, duration: per}
		rl.keys[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*per:
		w.start, w.prev, w.cur = now, 0, 0
	case elapsed >= per:
		w.start, w.prev, w.cur = w.start.Add(per), w.cur, 0
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(per)
	estimate := float64(w.prev)*overlap + float64(w.cur)
	if estimate+1 > float64(limit) {
		return false, w.start.Add(per).Sub(now)
	}
	w.cur++
	return true, 0
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.keys)
}

// Cleanup forgets keys idle for two full windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.keys {
		if now.Sub(w.start) >= 2*w.duration {
			delete(rl.keys, key)
		}
	}
}

// RateLimit returns middleware that limits requests per keyFunc(r). Rejected
// requests get a 429 JSON error and Retry-After in whole seconds.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, per time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.take(keyFunc(r), limit, per)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(wait.Round(time.Second).Seconds()))))
				jsonError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByIP keys on route pattern and client address, giving each endpoint its
// own budget.
func ByIP(r *http.Request) string {
	return r.Pattern + "|" + RealIP(r)
}
