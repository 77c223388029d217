package manager

import "time"

// BreakerState represents the state of a per-server circuit breaker.
type BreakerState int

const (
	// BreakerClosed is the normal operation state.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all start attempts for the server.
	BreakerOpen
	// BreakerHalfOpen is reserved for a future recovery probe; the
	// failure-recording logic never produces it.
	BreakerHalfOpen
)

// String returns the string representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerInfo is a read-only snapshot of one server's breaker.
type BreakerInfo struct {
	ServerID    string       `json:"server_id"`
	State       BreakerState `json:"-"`
	StateName   string       `json:"state"`
	Failures    int          `json:"failures"`
	WindowStart time.Time    `json:"window_start"`
}

// breaker tracks start failures for one server id. There is no automatic
// open-to-closed transition: the breaker stays open until the failure
// window elapses before the next failure, or until an explicit reset.
// Breaker entries survive StopConnection so failure history carries across
// restarts.
type breaker struct {
	state       BreakerState
	failures    int
	windowStart time.Time
}

// allow reports whether a start attempt may proceed. When the accumulated
// failures already meet maxFailures, the breaker is flipped open as a side
// effect and the attempt is rejected.
func (b *breaker) allow(maxFailures int) error {
	if b.state == BreakerOpen {
		return ErrCircuitOpen
	}
	if maxFailures > 0 && b.failures >= maxFailures {
		b.state = BreakerOpen
		return ErrCircuitOpen
	}
	return nil
}

// recordFailure counts a transport failure. A failure arriving after the
// window has elapsed resets the window (failures=1, closed); otherwise the
// count grows in place and the breaker opens once it reaches maxFailures.
func (b *breaker) recordFailure(now time.Time, maxFailures int, window time.Duration) {
	if window > 0 && now.Sub(b.windowStart) > window {
		b.failures = 1
		b.windowStart = now
		b.state = BreakerClosed
		return
	}
	if b.windowStart.IsZero() {
		b.windowStart = now
	}
	b.failures++
	if maxFailures > 0 && b.failures >= maxFailures {
		b.state = BreakerOpen
	}
}

// reset returns the breaker to closed with a clean slate.
func (b *breaker) reset() {
	b.state = BreakerClosed
	b.failures = 0
	b.windowStart = time.Time{}
}
