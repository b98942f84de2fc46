// Package ratelimit provides a keyed token-bucket limiter used to throttle
// authentication attempts per user before the password check runs.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting parameters for one keyed limiter.
type Config struct {
	// AttemptsPerWindow is the number of attempts allowed in the time window.
	AttemptsPerWindow int
	// Window is the time window for rate limiting.
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit.
	Burst int
}

// StrictLimit is the profile for credential-guessing surfaces: 5 attempts
// per minute with the full window available as a burst.
var StrictLimit = Config{
	AttemptsPerWindow: 5,
	Window:            time.Minute,
	Burst:             5,
}

// Keyed manages one token bucket per key (e.g. per username).
type Keyed struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewKeyed creates a keyed limiter from a Config.
func NewKeyed(cfg Config) *Keyed {
	perSecond := float64(cfg.AttemptsPerWindow) / cfg.Window.Seconds()
	return &Keyed{
		rate:        rate.Limit(perSecond),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether an attempt for key is within the limit, consuming
// one token if so.
func (k *Keyed) Allow(key string) bool {
	return k.limiter(key).Allow()
}

// limiter retrieves or creates the bucket for key.
func (k *Keyed) limiter(key string) *rate.Limiter {
	if l, ok := k.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}

	l := rate.NewLimiter(k.rate, k.burst)
	actual, _ := k.limiters.LoadOrStore(key, l)

	k.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops buckets that have refilled completely, which means the
// key has been idle for at least a full window. Runs at most every 5 minutes
// so ephemeral keys don't accumulate forever.
func (k *Keyed) maybeCleanup() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if time.Since(k.lastCleanup) < 5*time.Minute {
		return
	}
	k.lastCleanup = time.Now()

	k.limiters.Range(func(key, value any) bool {
		l := value.(*rate.Limiter)
		if l.Tokens() >= float64(k.burst) {
			k.limiters.Delete(key)
		}
		return true
	})
}
