package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"collector/internal/spec"
)

func TestNew_Constant(t *testing.T) {
	b := New(spec.BackoffPolicy{Kind: "constant", Interval: 2 * time.Second})
	for i := 0; i < 5; i++ {
		assert.Equal(t, 2*time.Second, b.NextBackOff())
	}
}

func TestNew_ExponentialGrowsToCapAndResets(t *testing.T) {
	b := New(spec.BackoffPolicy{Kind: "exponential", Interval: time.Second, MaxInterval: 4 * time.Second})
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestWait_FiresOnClock(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Now())
	done := make(chan error, 1)
	go func() {
		_, err := Wait(context.Background(), fc, backoff.NewConstantBackOff(3*time.Second))
		done <- err
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	fc.Step(3 * time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the clock advanced")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Wait(ctx, fc, backoff.NewConstantBackOff(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWait_ZeroDelay(t *testing.T) {
	d, err := Wait(context.Background(), clocktesting.NewFakeClock(time.Now()), &backoff.ZeroBackOff{})
	assert.NoError(t, err)
	assert.Zero(t, d)
}

func TestWait_Stop(t *testing.T) {
	_, err := Wait(context.Background(), clocktesting.NewFakeClock(time.Now()), &backoff.StopBackOff{})
	assert.ErrorIs(t, err, ErrExhausted)
}
