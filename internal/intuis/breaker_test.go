package intuis

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker(t *testing.T) {
	b := circuitBreaker{
		threshold:    3,
		baseCooldown: 30 * time.Second,
		maxCooldown:  2 * time.Minute,
		logger:       slog.Default(),
	}

	assert.Zero(t, b.recordFailure())
	assert.Zero(t, b.recordFailure())
	assert.False(t, b.isOpen())

	cooldown := b.recordFailure()
	assert.Equal(t, 30*time.Second, cooldown)
	assert.True(t, b.isOpen())
	assert.Greater(t, b.remainingWait(), time.Duration(0))

	b.recordSuccess()
	assert.False(t, b.isOpen())
	assert.Zero(t, b.remainingWait())
	assert.Zero(t, b.failures)
}

func TestCircuitBreaker_Cooldown_Grows(t *testing.T) {
	b := circuitBreaker{
		threshold:    3,
		baseCooldown: 30 * time.Second,
		maxCooldown:  2 * time.Minute,
		logger:       slog.Default(),
	}

	var previous time.Duration
	for range 10 {
		cooldown := b.recordFailure()
		assert.GreaterOrEqual(t, cooldown, previous)
		assert.LessOrEqual(t, cooldown, b.maxCooldown)
		previous = cooldown
	}
	assert.Equal(t, b.maxCooldown, previous)
}

func TestCircuitBreaker_Closes_Lazily(t *testing.T) {
	b := circuitBreaker{
		threshold:    1,
		baseCooldown: time.Millisecond,
		maxCooldown:  time.Millisecond,
		logger:       slog.Default(),
	}

	b.recordFailure()
	assert.Eventually(t, func() bool { return !b.isOpen() }, time.Second, 10*time.Millisecond)
	b.lock.Lock()
	defer b.lock.Unlock()
	assert.True(t, b.openUntil.IsZero())
}

func TestCircuitBreaker_Hook(t *testing.T) {
	var opened int
	b := circuitBreaker{
		threshold:    1,
		baseCooldown: 30 * time.Second,
		maxCooldown:  2 * time.Minute,
		logger:       slog.Default(),
		onOpen: func(_ time.Duration) {
			opened++
			panic("hook blew up")
		},
	}

	// a failing hook must never propagate into the request path
	assert.NotPanics(t, func() { b.recordFailure() })
	assert.Equal(t, 1, opened)
	assert.True(t, b.isOpen())
}
