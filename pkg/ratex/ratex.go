// Package ratex provides a keyed token-bucket rate limiter. Keys are
// arbitrary strings (an actor id, an IP); each key gets its own bucket and
// idle buckets are evicted so ephemeral keys don't accumulate forever.
package ratex

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the limiter parameters.
type Config struct {
	// RequestsPerWindow is the number of operations allowed in the window.
	RequestsPerWindow int
	// Window is the time window the quota applies to.
	Window time.Duration
	// Burst allows temporary bursts above the steady rate. Defaults to
	// RequestsPerWindow when zero.
	Burst int
}

// Limiter manages per-key token buckets.
type Limiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

// New builds a keyed limiter from cfg.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerWindow
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	return &Limiter{
		rate:        rate.Limit(float64(cfg.RequestsPerWindow) / window.Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether the operation keyed by key may proceed now, consuming
// a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).Allow()
}

// getLimiter retrieves or creates the bucket for the given key.
func (l *Limiter) getLimiter(key string) *rate.Limiter {
	// Fast path: bucket already exists
	if lim, ok := l.limiters.Load(key); ok {
		return lim.(*rate.Limiter)
	}

	lim := rate.NewLimiter(l.rate, l.burst)
	actual, _ := l.limiters.LoadOrStore(key, lim)

	l.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup removes buckets that have refilled completely, which means
// their key has been idle at least a full window. Runs at most once every
// five minutes.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		lim := value.(*rate.Limiter)
		if lim.Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}
