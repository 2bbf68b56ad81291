// Package loginguard tracks failed authentication attempts per source and
// imposes a temporary lockout. State is process-local and in-memory: a
// restart clears all lockouts, which is a documented limitation.
package loginguard

import (
	"sync"
	"time"
)

// Defaults for the lockout state machine.
const (
	DefaultThreshold = 5
	DefaultWindow    = 600 * time.Second
	DefaultLockout   = 300 * time.Second
)

// record is the per-source attempt state.
type record struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// Guard is a login brute-force guard keyed by an arbitrary source
// identifier (typically the client IP). Safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	records   map[string]*record
	threshold int
	window    time.Duration
	lockout   time.Duration
	now       func() time.Time
}

// New creates a Guard with the default threshold, window, and lockout.
func New() *Guard {
	return NewWithPolicy(DefaultThreshold, DefaultWindow, DefaultLockout)
}

// NewWithPolicy creates a Guard with explicit limits.
func NewWithPolicy(threshold int, window, lockout time.Duration) *Guard {
	return &Guard{
		records:   map[string]*record{},
		threshold: threshold,
		window:    window,
		lockout:   lockout,
		now:       time.Now,
	}
}

// CheckAllowed reports whether key may attempt authentication. When the
// key is locked out, the second return value is the remaining lockout in
// whole seconds (rounded up).
func (g *Guard) CheckAllowed(key string) (bool, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)

	rec, ok := g.records[key]
	if !ok {
		return true, 0
	}
	if remaining := rec.lockedUntil.Sub(now); remaining > 0 {
		return false, int((remaining + time.Second - 1) / time.Second)
	}
	return true, 0
}

// RecordFailure counts one failed attempt from key. Reaching the
// threshold starts the lockout. Failures during an active lockout do not
// extend it.
func (g *Guard) RecordFailure(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)

	rec, ok := g.records[key]
	if !ok {
		g.records[key] = &record{failures: 1, lastFailure: now}
		return
	}
	if now.Before(rec.lockedUntil) {
		return
	}

	rec.failures++
	rec.lastFailure = now
	if rec.failures >= g.threshold {
		rec.lockedUntil = now.Add(g.lockout)
	}
}

// RecordSuccess clears all state for key.
func (g *Guard) RecordSuccess(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, key)
}

// prune drops records whose observation window elapsed with no active
// lock. Must be called with the mutex held.
func (g *Guard) prune(now time.Time) {
	for key, rec := range g.records {
		if now.Before(rec.lockedUntil) {
			continue
		}
		if now.Sub(rec.lastFailure) >= g.window {
			delete(g.records, key)
		}
	}
}
