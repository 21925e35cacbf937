package realtime

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota // Normal operation
	StateOpen                // Blocking connection attempts
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 300 * time.Second
	DefaultDecayInterval    = 30 * time.Second
)

// Guard tracks consecutive realtime connection failures and trips a
// circuit breaker once they cross the failure threshold. While the
// breaker is open every connection attempt is refused until the
// cooldown has fully elapsed.
type Guard struct {
	mutex            sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	trippedAt        time.Time
	failureThreshold int
	cooldown         time.Duration
	decayInterval    time.Duration
	now              func() time.Time
}

func NewGuard(threshold int, cooldown, decayInterval time.Duration) *Guard {
	return NewGuardWithClock(threshold, cooldown, decayInterval, time.Now)
}

// NewGuardWithClock uses the supplied clock for all time arithmetic.
// Tests inject a fake clock to drive cooldown and decay deterministically.
func NewGuardWithClock(threshold int, cooldown, decayInterval time.Duration, now func() time.Time) *Guard {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{
		state:            StateClosed,
		failureThreshold: threshold,
		cooldown:         cooldown,
		decayInterval:    decayInterval,
		now:              now,
	}
}

// RecordFailure counts one failed connection attempt. It never trips
// the breaker by itself; tripping happens on the next ShouldBlock call.
func (g *Guard) RecordFailure() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.decayLocked()
	g.failures++
	g.lastFailure = g.now()
}

// RecordSuccess resets the guard to a clean closed state. Calling it
// repeatedly is harmless.
func (g *Guard) RecordSuccess() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.failures = 0
	g.state = StateClosed
	g.lastFailure = time.Time{}
	g.trippedAt = time.Time{}
}

// ShouldBlock reports whether a connection attempt must be refused.
// It owns both breaker transitions: a closed guard at or past the
// failure threshold trips open, and an open guard whose cooldown has
// fully elapsed resets to closed with a zeroed counter.
func (g *Guard) ShouldBlock() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.state == StateOpen {
		if g.now().Sub(g.trippedAt) >= g.cooldown {
			g.state = StateClosed
			g.failures = 0
			g.lastFailure = time.Time{}
			g.trippedAt = time.Time{}
			return false
		}
		return true
	}

	g.decayLocked()
	if g.failures >= g.failureThreshold {
		g.state = StateOpen
		g.trippedAt = g.now()
		return true
	}
	return false
}

// decayLocked forgives one failure per full decay interval elapsed
// since the most recent failure. Decay never runs while the breaker
// is open and never forgives more failures than were recorded.
func (g *Guard) decayLocked() {
	if g.state == StateOpen || g.failures == 0 || g.decayInterval <= 0 {
		return
	}

	steps := int(g.now().Sub(g.lastFailure) / g.decayInterval)
	if steps <= 0 {
		return
	}
	if steps > g.failures {
		steps = g.failures
	}

	g.failures -= steps
	g.lastFailure = g.lastFailure.Add(time.Duration(steps) * g.decayInterval)
}

func (g *Guard) State() State {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.state
}

// GuardSnapshot is a point-in-time view of the guard. Taking one
// never mutates guard state.
type GuardSnapshot struct {
	State          State
	FailureCount   int
	TrippedAt      time.Time
	TimeUntilReset time.Duration
}

func (g *Guard) Snapshot() GuardSnapshot {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	snap := GuardSnapshot{
		State:        g.state,
		FailureCount: g.failures,
		TrippedAt:    g.trippedAt,
	}

	if g.state == StateOpen {
		remaining := g.cooldown - g.now().Sub(g.trippedAt)
		if remaining < 0 {
			remaining = 0
		}
		snap.TimeUntilReset = remaining
	}

	return snap
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}
