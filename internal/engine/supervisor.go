package engine

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/utils/clock"

	"collector/internal/logging"
	"collector/internal/pipeline"
	"collector/internal/retry"
	"collector/internal/telemetry"
)

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Supervisor keeps one queue connection alive. Every connection gets a fresh
// buffer and flusher; whatever was buffered when a connection died is left
// unacked for the broker to redeliver.
type Supervisor struct {
	plan    *pipeline.Plan
	clock   clock.Clock
	metrics *telemetry.Metrics

	reconnect    backoff.BackOff
	writeBackoff backoff.BackOff

	// OnStateChange, when set, is called on every transition.
	OnStateChange func(State)
}

func NewSupervisor(plan *pipeline.Plan, clk clock.Clock, m *telemetry.Metrics) *Supervisor {
	return &Supervisor{
		plan:         plan,
		clock:        clk,
		metrics:      m,
		reconnect:    retry.New(plan.File.Backoff.Reconnect),
		writeBackoff: retry.New(plan.File.Backoff.Write),
	}
}

// Run connects, consumes and reconnects until ctx is done. Cancellation is
// the only way out and is not an error.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.metrics.RecordReconnect()
		logging.L().Warn("reconnecting", "queue", s.plan.QueueName, "err", err)
		if _, err := retry.Wait(ctx, s.clock, s.reconnect); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Supervisor) session(ctx context.Context) error {
	p := s.plan
	conn, err := p.Queue.Dial(ctx, p.QueueConfig)
	if err != nil {
		return &pipeline.ConnectionFault{Op: "dial", Err: err}
	}
	defer func() {
		_ = conn.Close()
		s.metrics.SetBuffered(0)
		s.setState(Disconnected)
	}()

	if err := conn.DeclareQueue(ctx, p.QueueName); err != nil {
		return &pipeline.ConnectionFault{Op: "declare", Err: err}
	}
	if err := conn.SetPrefetch(p.Prefetch); err != nil {
		return &pipeline.ConnectionFault{Op: "qos", Err: err}
	}
	if err := conn.Consume(ctx, p.QueueName); err != nil {
		return &pipeline.ConnectionFault{Op: "consume", Err: err}
	}

	s.reconnect.Reset()
	s.setState(Connected)
	logging.L().Info("connected",
		"host", p.QueueConfig.Host,
		"queue", p.QueueName,
		"sink", p.File.Sink.URL,
		"user", p.File.Sink.Credentials.User,
		"batch_size", p.BatchSize,
		"flush_interval", p.FlushInterval)

	s.writeBackoff.Reset()
	f := pipeline.NewFlusher(pipeline.NewBuffer(s.clock), p.Sink, conn, pipeline.FlusherConfig{
		BatchSize:     p.BatchSize,
		FlushInterval: p.FlushInterval,
		Backoff:       s.writeBackoff,
		Clock:         s.clock,
		Metrics:       s.metrics,
	})
	return pipeline.NewRunner(conn, f, p.PollTick).Run(ctx)
}

func (s *Supervisor) setState(st State) {
	s.metrics.SetConnected(st == Connected)
	if s.OnStateChange != nil {
		s.OnStateChange(st)
	}
}
