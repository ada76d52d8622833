package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryThrottle_BudgetAndWindow(t *testing.T) {
	throttle := NewMemoryThrottle(3, time.Minute)
	now := time.Now()
	throttle.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, err := throttle.Bump(ctx, "client-a")
		require.NoError(t, err)
		assert.False(t, exceeded, "bump %d should stay within budget", i+1)
	}

	exceeded, err := throttle.Bump(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, exceeded)

	exceeded, err = throttle.Exceeded(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, exceeded)

	// Other clients have their own budget.
	exceeded, err = throttle.Exceeded(ctx, "client-b")
	require.NoError(t, err)
	assert.False(t, exceeded)

	// The window expires and the budget resets.
	now = now.Add(2 * time.Minute)
	exceeded, err = throttle.Exceeded(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, exceeded)

	exceeded, err = throttle.Bump(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, exceeded)
}
