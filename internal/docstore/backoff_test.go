package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullJitterBackoff_BoundsGrowUpToCap(t *testing.T) {
	b := NewFullJitterBackoff(5*time.Millisecond, 200*time.Millisecond)

	var asked []int64
	b.randN = func(n int64) int64 {
		asked = append(asked, n)
		return n - 1
	}
	for attempt := 1; attempt <= 7; attempt++ {
		_, err := b.BackoffDelay(attempt, nil)
		require.NoError(t, err)
	}

	ms := int64(time.Millisecond)
	assert.Equal(t, []int64{10 * ms, 20 * ms, 40 * ms, 80 * ms, 160 * ms, 200 * ms, 200 * ms}, asked)
}

func TestFullJitterBackoff_DelaysAreSpread(t *testing.T) {
	const maxDelay = 200 * time.Millisecond
	b := NewFullJitterBackoff(5*time.Millisecond, maxDelay)

	seen := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		d, err := b.BackoffDelay(6, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, maxDelay)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1, "every retry waited the same delay")
}

func TestFullJitterBackoff_ZeroCapDisablesDelay(t *testing.T) {
	b := NewFullJitterBackoff(0, 0)
	for attempt := 1; attempt <= 40; attempt++ {
		d, err := b.BackoffDelay(attempt, nil)
		require.NoError(t, err)
		assert.Zero(t, d)
	}
}

func TestFullJitterBackoff_LargeAttemptStaysUnderCap(t *testing.T) {
	b := NewFullJitterBackoff(time.Millisecond, time.Second)
	d, err := b.BackoffDelay(64, nil)
	require.NoError(t, err)
	assert.Less(t, d, time.Second)
}
