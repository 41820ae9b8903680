// Package retry turns configured backoff policies into schedules and waits
// them out on an injectable clock.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"collector/internal/spec"
)

// ErrExhausted is returned by Wait when the schedule says stop.
var ErrExhausted = errors.New("retry: backoff exhausted")

// New builds the delay schedule for p. Both kinds retry forever.
func New(p spec.BackoffPolicy) backoff.BackOff {
	if p.Kind != "exponential" {
		return backoff.NewConstantBackOff(p.Interval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Wait sleeps for b's next delay on clk. It returns early with ctx.Err() when
// ctx is done.
func Wait(ctx context.Context, clk clock.Clock, b backoff.BackOff) (time.Duration, error) {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return d, ErrExhausted
	}
	if d <= 0 {
		return 0, ctx.Err()
	}
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-t.C():
		return d, nil
	}
}
