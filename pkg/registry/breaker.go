package registry

import "time"

// breakerState is the circuit breaker state for one provider.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker is a three-state failure-counting circuit breaker:
// closed -> open once consecutive failures reach the threshold,
// open -> half-open after the cooldown, half-open admits one trial call,
// trial success closes the breaker, trial failure re-opens it with a
// fresh cooldown. All methods are called under the owning entry's lock.
type breaker struct {
	threshold int
	cooldown  time.Duration

	state         breakerState
	openedAt      time.Time
	trialInFlight bool
}

func newBreaker(threshold int, cooldown time.Duration) breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed, consuming the half-open trial
// slot when it grants one.
func (b *breaker) allow(now time.Time) bool {
	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		// Cooldown elapsed: permit a single trial call.
		b.state = breakerHalfOpen
		b.trialInFlight = true
		return true
	case breakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// onSuccess closes the breaker.
func (b *breaker) onSuccess() {
	b.state = breakerClosed
	b.trialInFlight = false
}

// onFailure updates the breaker after a failed call. consecutive is the
// provider's consecutive-failure count including this failure.
func (b *breaker) onFailure(now time.Time, consecutive int) {
	switch b.state {
	case breakerHalfOpen:
		// Trial failed: re-open with a fresh cooldown.
		b.state = breakerOpen
		b.openedAt = now
		b.trialInFlight = false
	case breakerClosed:
		if consecutive >= b.threshold {
			b.state = breakerOpen
			b.openedAt = now
		}
	}
}

// available reports whether a call could proceed without consuming the
// half-open trial slot. Used when listing candidates rather than calling.
func (b *breaker) available(now time.Time) bool {
	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		return now.Sub(b.openedAt) >= b.cooldown
	case breakerHalfOpen:
		return !b.trialInFlight
	}
	return false
}

// isOpen reports whether calls are currently rejected outright.
func (b *breaker) isOpen(now time.Time) bool {
	return b.state == breakerOpen && now.Sub(b.openedAt) < b.cooldown
}
