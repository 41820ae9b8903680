package pipeline

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"collector/internal/telemetry"
	"collector/queue"
)

// Runner is the consume loop of one connection: poll, hand deliveries to the
// flusher, and check the flush interval at least once per tick.
type Runner struct {
	conn    queue.Conn
	flusher *Flusher
	tick    time.Duration
	clock   clock.PassiveClock
	metrics *telemetry.Metrics
}

func NewRunner(conn queue.Conn, f *Flusher, tick time.Duration) *Runner {
	return &Runner{
		conn:    conn,
		flusher: f,
		tick:    tick,
		clock:   f.cfg.Clock,
		metrics: f.cfg.Metrics,
	}
}

// Run loops until ctx is done or the connection faults. It never returns
// nil: the result is either ctx.Err() or a *ConnectionFault.
func (r *Runner) Run(ctx context.Context) error {
	lastTick := r.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, ok, err := r.conn.Poll(ctx, r.tick)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ConnectionFault{Op: "poll", Err: err}
		}
		if ok {
			r.metrics.RecordReceived(d.Redelivered)
			if err := r.flusher.OnMessage(ctx, d.Body, d.Handle); err != nil {
				return err
			}
		}
		// A quiet poll is a tick; a busy stream still gets one per interval.
		if !ok || r.clock.Since(lastTick) >= r.tick {
			lastTick = r.clock.Now()
			if err := r.flusher.OnTick(ctx); err != nil {
				return err
			}
		}
	}
}
