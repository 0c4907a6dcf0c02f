package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/familyhub/contextd/pkg/memory"
)

// BreakerState is the externally visible breaker state.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// BreakerConfig tunes the per-tier circuit breakers.
type BreakerConfig struct {
	// Threshold consecutive failures within Window open the breaker.
	Threshold int
	Window    time.Duration
	// Cooldown is how long an open breaker waits before it is rechecked.
	Cooldown time.Duration
	// RecheckInterval paces the background health rechecks.
	RecheckInterval time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:       5,
		Window:          30 * time.Second,
		Cooldown:        10 * time.Second,
		RecheckInterval: 2 * time.Second,
	}
}

// Breaker counts consecutive failures of one tier. The streak is guarded by
// mu, which is never held around tier I/O.
type Breaker struct {
	tier memory.Tier
	cfg  BreakerConfig

	mu          sync.Mutex
	failures    int
	streakStart int64 // unix nanos of the first failure in the streak

	openedAt     atomic.Int64 // unix nanos; 0 while closed
	lastCheck    atomic.Int64
	checkHealthy atomic.Bool
}

func newBreaker(tier memory.Tier, cfg BreakerConfig) *Breaker {
	return &Breaker{tier: tier, cfg: cfg}
}

// Allow reports whether a call may be dispatched.
func (b *Breaker) Allow() bool {
	return b.openedAt.Load() == 0
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	if b.Allow() {
		return BreakerClosed
	}
	return BreakerOpen
}

// Failures returns the length of the current failure streak.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Success ends the failure streak. It does not close an open breaker; only a
// successful recheck does.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failure records a failed call at now and reports whether this failure
// opened the breaker.
func (b *Breaker) Failure(now time.Time) bool {
	ts := now.UnixNano()
	b.mu.Lock()
	if b.failures == 0 || ts-b.streakStart > b.cfg.Window.Nanoseconds() {
		b.streakStart = ts
		b.failures = 0
	}
	b.failures++
	tripped := b.failures >= b.cfg.Threshold
	b.mu.Unlock()

	if tripped {
		return b.openedAt.CompareAndSwap(0, ts)
	}
	return false
}

// recheckDue reports whether the breaker is open and its cooldown has elapsed.
func (b *Breaker) recheckDue(now time.Time) bool {
	opened := b.openedAt.Load()
	return opened != 0 && now.UnixNano()-opened >= b.cfg.Cooldown.Nanoseconds()
}

// rechecked records a health check result. A healthy check closes the breaker
// and reports true; an unhealthy one re-arms the cooldown.
func (b *Breaker) rechecked(now time.Time, healthy bool) bool {
	b.lastCheck.Store(now.UnixNano())
	b.checkHealthy.Store(healthy)
	if !healthy {
		b.openedAt.Store(now.UnixNano())
		return false
	}
	b.Success()
	return b.openedAt.Swap(0) != 0
}

// TierStatus is a point-in-time view of one tier's breaker.
type TierStatus struct {
	Tier                memory.Tier  `json:"tier"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	LastCheckAt         *time.Time   `json:"last_check_at,omitempty"`
	LastCheckHealthy    bool         `json:"last_check_healthy"`
}

func (b *Breaker) status() TierStatus {
	st := TierStatus{
		Tier:                b.tier,
		State:               b.State(),
		ConsecutiveFailures: b.Failures(),
		LastCheckHealthy:    b.checkHealthy.Load(),
	}
	if ts := b.openedAt.Load(); ts != 0 {
		t := time.Unix(0, ts).UTC()
		st.OpenedAt = &t
	}
	if ts := b.lastCheck.Load(); ts != 0 {
		t := time.Unix(0, ts).UTC()
		st.LastCheckAt = &t
	}
	return st
}
