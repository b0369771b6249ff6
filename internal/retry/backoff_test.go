package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	b := NewLinearBackoff(time.Minute, 0)

	assert.Equal(t, time.Minute, b.Next(1))
	assert.Equal(t, 2*time.Minute, b.Next(2))
	assert.Equal(t, 3*time.Minute, b.Next(3))

	// Attempts below one are clamped.
	assert.Equal(t, time.Minute, b.Next(0))
}

func TestLinearBackoff_Cap(t *testing.T) {
	t.Parallel()

	b := NewLinearBackoff(time.Minute, 2*time.Minute)
	assert.Equal(t, 2*time.Minute, b.Next(5))
}

func TestExponentialBackoff_GrowsWithinBounds(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(time.Second, time.Minute)

	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Next(attempt)

		upper := time.Duration(float64(time.Second) * float64(int64(1)<<uint(attempt-1)))
		if upper > time.Minute {
			upper = time.Minute
		}

		assert.GreaterOrEqual(t, d, upper/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, upper, "attempt %d", attempt)
	}
}

func TestForStrategy(t *testing.T) {
	t.Parallel()

	b, err := ForStrategy(StrategyLinear, time.Second)
	require.NoError(t, err)
	assert.IsType(t, (*LinearBackoff)(nil), b)

	b, err = ForStrategy("", time.Second)
	require.NoError(t, err)
	assert.IsType(t, (*LinearBackoff)(nil), b)

	b, err = ForStrategy(StrategyExponential, time.Second)
	require.NoError(t, err)
	assert.IsType(t, (*ExponentialBackoff)(nil), b)

	_, err = ForStrategy("fibonacci", time.Second)
	assert.Error(t, err)
}
