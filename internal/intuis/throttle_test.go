package intuis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottler(t *testing.T) {
	th := throttler{minDelay: 50 * time.Millisecond}
	ctx := context.Background()

	require.NoError(t, th.acquire(ctx))
	start := time.Now()
	require.NoError(t, th.acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottler_Canceled(t *testing.T) {
	th := throttler{minDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, th.acquire(ctx))
	cancel()
	assert.ErrorIs(t, th.acquire(ctx), context.Canceled)
}
