// Package ratex provides a per-key attempt limiter for brute-force
// sensitive operations (password login, 2FA codes). Keys are whatever the
// caller identifies an attacker by: an email, a user id, a client id.
package ratex

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const staleAfter = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks a token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
}

// New builds a limiter allowing perWindow events per window, with the full
// window available as a burst.
func New(perWindow int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   rate.Every(window / time.Duration(perWindow)),
		burst:   perWindow,
	}
}

// Allow reports whether the key may make another attempt now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	// Opportunistic sweep keeps the map from growing without a janitor
	// goroutine.
	if len(l.entries) > 1024 {
		for k, v := range l.entries {
			if now.Sub(v.lastSeen) > staleAfter {
				delete(l.entries, k)
			}
		}
	}

	return e.limiter.Allow()
}

// Forget drops the key's bucket, typically after a successful
// authentication so legitimate users regain full headroom.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}
