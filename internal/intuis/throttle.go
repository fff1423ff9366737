package intuis

import (
	"context"
	"sync"
	"time"
)

// throttler enforces a minimum delay between outgoing requests. The lock is
// held while waiting, so only one caller at a time moves through the delay
// window; the others queue up behind it.
type throttler struct {
	minDelay time.Duration

	lock sync.Mutex
	last time.Time
}

// acquire blocks until at least minDelay has passed since the previous caller
// returned from acquire.
func (t *throttler) acquire(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.last.IsZero() {
		if wait := t.minDelay - time.Since(t.last); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	t.last = time.Now()
	return nil
}

// sleep waits for the given duration, or returns early when ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
