package intuis

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// circuitBreaker stops the client from hammering the API once it is being rate
// limited. After threshold consecutive 429 responses the circuit opens for an
// exponentially growing cooldown, capped at maxCooldown. Any successful
// request closes the circuit and resets the failure count.
type circuitBreaker struct {
	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration
	onOpen       func(time.Duration)
	logger       *slog.Logger

	lock      sync.Mutex
	failures  int
	openUntil time.Time
}

// recordFailure registers a 429 response. If the circuit opens, it returns the
// cooldown duration; otherwise it returns zero.
func (b *circuitBreaker) recordFailure() time.Duration {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.failures++
	b.logger.Debug("rate limit recorded", "failures", b.failures, "threshold", b.threshold)

	if b.failures < b.threshold {
		return 0
	}

	cooldown := b.baseCooldown << (b.failures - b.threshold)
	if cooldown > b.maxCooldown || cooldown <= 0 {
		cooldown = b.maxCooldown
	}
	b.openUntil = time.Now().Add(cooldown)
	b.logger.Warn("circuit breaker open, pausing all requests", "cooldown", cooldown)
	b.notify(cooldown)
	return cooldown
}

// notify invokes the rate limit hook. The hook runs outside the client's
// control: errors (panics) are swallowed so they can't break the request path.
func (b *circuitBreaker) notify(cooldown time.Duration) {
	if b.onOpen == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("rate limit callback failed", "err", fmt.Errorf("%v", r))
		}
	}()
	b.onOpen(cooldown)
}

// recordSuccess closes the circuit and resets the failure count.
func (b *circuitBreaker) recordSuccess() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.failures > 0 {
		b.logger.Debug("circuit breaker reset after successful request")
	}
	b.failures = 0
	b.openUntil = time.Time{}
}

// remainingWait returns how long the circuit remains open. Once the cooldown
// has elapsed, the circuit closes and the next request proceeds normally:
// there is no separate half-open probe state.
func (b *circuitBreaker) remainingWait() time.Duration {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.openUntil.IsZero() {
		return 0
	}
	if remaining := time.Until(b.openUntil); remaining > 0 {
		return remaining
	}
	b.openUntil = time.Time{}
	return 0
}

func (b *circuitBreaker) isOpen() bool {
	return b.remainingWait() > 0
}
