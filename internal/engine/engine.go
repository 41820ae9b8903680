package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"collector/internal/logging"
	"collector/internal/pipeline"
	"collector/internal/telemetry"
	"collector/internal/transport"
)

type Engine struct {
	plan        *pipeline.Plan
	transport   *transport.Server
	registry    *prometheus.Registry
	metricsPort int
	supervisor  *Supervisor
}

// ControlPort is the port the health server listens on.
func (e *Engine) ControlPort() int { return e.transport.Port() }

// Run serves health and metrics and supervises the queue connection until
// ctx is done. A metrics port of 0 disables the metrics endpoint.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		if err := e.plan.Sink.Close(); err != nil {
			logging.L().Warn("sink close", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(e.transport.Serve)
	g.Go(func() error {
		<-ctx.Done()
		e.transport.Stop()
		return nil
	})
	if e.metricsPort > 0 {
		g.Go(func() error { return telemetry.Serve(ctx, e.metricsPort, e.registry) })
	}
	g.Go(func() error { return e.supervisor.Run(ctx) })

	logging.L().Info("engine: running",
		"queue_driver", e.plan.File.Queue.Driver,
		"sink_driver", e.plan.File.Sink.Driver,
		"control_port", e.ControlPort(),
		"metrics_port", e.metricsPort)
	return g.Wait()
}
