package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"livesession/internal/clock"
)

// DefaultRequestsPerMinute is the per-caller budget for mutating requests
const DefaultRequestsPerMinute = 100

// staleAfter is how long an idle caller's window is kept before cleanup
const staleAfter = 5 * time.Minute

// RateLimiter implements per-caller rate limiting
// ARCHITECTURAL DISCOVERY: Per-caller state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*ClientLimit
	limit       int
	clock       clock.Clock
	lastCleanup time.Time
}

// ClientLimit tracks rate limiting for a single caller
// FUNCTIONAL DISCOVERY: Fixed one-minute windows reset on the first request after expiry
type ClientLimit struct {
	requestCount int
	windowStart  time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per caller
func NewRateLimiter(requestsPerMinute int, c clock.Clock) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if c == nil {
		c = clock.Real()
	}
	return &RateLimiter{
		clients:     make(map[string]*ClientLimit),
		limit:       requestsPerMinute,
		clock:       c,
		lastCleanup: c.Now(),
	}
}

// Allow checks whether the caller may issue another request in the current window
func (rl *RateLimiter) Allow(callerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(rl.lastCleanup) >= staleAfter {
		rl.cleanupLocked(now)
	}

	limit, exists := rl.clients[callerID]
	if !exists {
		rl.clients[callerID] = &ClientLimit{requestCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.requestCount = 1
		limit.windowStart = now
		return true
	}

	if limit.requestCount >= rl.limit {
		return false
	}

	limit.requestCount++
	return true
}

// RetryAfter returns how long the caller must wait for a fresh window
func (rl *RateLimiter) RetryAfter(callerID string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, exists := rl.clients[callerID]
	if !exists {
		return 0
	}
	wait := time.Minute - rl.clock.Now().Sub(limit.windowStart)
	if wait < 0 {
		return 0
	}
	return wait
}

// Cleanup removes callers idle for longer than five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupLocked(rl.clock.Now())
}

// Size returns the number of tracked callers
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for callerID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > staleAfter {
			delete(rl.clients, callerID)
		}
	}
	rl.lastCleanup = now
}

// Middleware rejects callers over budget with 429 and a Retry-After header
// FUNCTIONAL DISCOVERY: Anonymous requests are keyed by remote address
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(CallerHeader)
		if key == "" {
			key = r.RemoteAddr
		}

		if !rl.Allow(key) {
			seconds := int(rl.RetryAfter(key).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			sendError(w, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
