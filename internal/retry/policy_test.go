package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyOverridesAndClamp(t *testing.T) {
	p := NewPolicy(BackoffFixed, 5*time.Second, 2*time.Second, 5)
	require.Equal(t, 2*time.Second, p.Initial)
	require.Equal(t, BackoffFixed, p.Mode)
	require.Equal(t, 5, p.MaxRetries)

	d := NewPolicy("bogus", 0, 0, -1)
	require.Equal(t, DefaultPolicy(), d)
	require.NoError(t, d.Validate())
}

func TestDelayModes(t *testing.T) {
	linear := NewPolicy(BackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	require.Equal(t, 100*time.Millisecond, linear.Delay(1))
	require.Equal(t, 200*time.Millisecond, linear.Delay(2))
	require.Equal(t, 250*time.Millisecond, linear.Delay(3))

	exp := NewPolicy(BackoffExponential, 100*time.Millisecond, time.Second, 5)
	require.Equal(t, 400*time.Millisecond, exp.Delay(3))
	require.Equal(t, time.Second, exp.Delay(6))
	require.Zero(t, exp.Delay(0))
}

func TestDoStopsAfterMaxRetries(t *testing.T) {
	p := NewPolicy(BackoffFixed, time.Millisecond, time.Millisecond, 2)
	calls := 0
	var retried []int
	err := p.Do(context.Background(), nil, func(context.Context) error {
		calls++
		return errors.New("nope")
	}, func(attempt int, _ error) { retried = append(retried, attempt) })

	require.EqualError(t, err, "nope")
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retried)
}

func TestDoSucceedsAfterRetryWithFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPolicy(BackoffFixed, time.Second, time.Second, 3)
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(t.Context(), clock, func(context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		}, nil)
	}()

	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Equal(t, 2, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not complete")
	}
}
