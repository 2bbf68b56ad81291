package loginguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the guard's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard() (*Guard, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New()
	g.now = clock.now
	return g, clock
}

func TestAllowedByDefault(t *testing.T) {
	g, _ := newTestGuard()
	allowed, remaining := g.CheckAllowed("1.2.3.4")
	assert.True(t, allowed)
	assert.Zero(t, remaining)
}

func TestLockoutAfterThreshold(t *testing.T) {
	g, _ := newTestGuard()

	for i := 0; i < DefaultThreshold-1; i++ {
		g.RecordFailure("1.2.3.4")
		allowed, _ := g.CheckAllowed("1.2.3.4")
		assert.True(t, allowed, "attempt %d should still be allowed", i+1)
	}

	g.RecordFailure("1.2.3.4")
	allowed, remaining := g.CheckAllowed("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, int(DefaultLockout/time.Second), remaining)
}

func TestLockoutExpires(t *testing.T) {
	g, clock := newTestGuard()

	for i := 0; i < DefaultThreshold; i++ {
		g.RecordFailure("1.2.3.4")
	}
	allowed, _ := g.CheckAllowed("1.2.3.4")
	assert.False(t, allowed)

	clock.advance(DefaultLockout + time.Second)
	allowed, remaining := g.CheckAllowed("1.2.3.4")
	assert.True(t, allowed)
	assert.Zero(t, remaining)
}

func TestFailuresDuringLockoutDoNotExtendIt(t *testing.T) {
	g, clock := newTestGuard()

	for i := 0; i < DefaultThreshold; i++ {
		g.RecordFailure("1.2.3.4")
	}
	_, before := g.CheckAllowed("1.2.3.4")

	clock.advance(10 * time.Second)
	g.RecordFailure("1.2.3.4")
	_, after := g.CheckAllowed("1.2.3.4")
	assert.Less(t, after, before)
}

func TestSuccessClearsState(t *testing.T) {
	g, _ := newTestGuard()

	for i := 0; i < DefaultThreshold-1; i++ {
		g.RecordFailure("1.2.3.4")
	}
	g.RecordSuccess("1.2.3.4")

	// The counter starts over: the next failure is the first of a new
	// window, not the threshold-crossing one.
	g.RecordFailure("1.2.3.4")
	allowed, _ := g.CheckAllowed("1.2.3.4")
	assert.True(t, allowed)
}

func TestWindowExpiryDropsStaleFailures(t *testing.T) {
	g, clock := newTestGuard()

	for i := 0; i < DefaultThreshold-1; i++ {
		g.RecordFailure("1.2.3.4")
	}

	clock.advance(DefaultWindow + time.Second)

	// The stale record was pruned; threshold-1 fresh failures still pass.
	for i := 0; i < DefaultThreshold-1; i++ {
		g.RecordFailure("1.2.3.4")
	}
	allowed, _ := g.CheckAllowed("1.2.3.4")
	assert.True(t, allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	g, _ := newTestGuard()

	for i := 0; i < DefaultThreshold; i++ {
		g.RecordFailure("1.2.3.4")
	}

	allowed, _ := g.CheckAllowed("5.6.7.8")
	assert.True(t, allowed)
}
