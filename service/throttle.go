package service

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const throttleIdleTTL = 10 * time.Minute

// keyLimiter applies a token bucket per key, used to keep one noisy client
// from flooding the log with decode failures. Idle entries are evicted.
type keyLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newKeyLimiter returns nil, which allows everything, when rps is not positive.
func newKeyLimiter(rps float64, burst int) *keyLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &keyLimiter{
		limit: rate.Limit(rps),
		burst: burst,
		byKey: make(map[string]*limiterEntry),
	}
}

// Allow reports whether one event for key may pass at now.
func (l *keyLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-throttleIdleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
