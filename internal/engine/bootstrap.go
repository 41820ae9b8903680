package engine

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/utils/clock"

	"collector/internal/config"
	"collector/internal/logging"
	"collector/internal/pipeline"
	"collector/internal/telemetry"
	"collector/internal/transport"
)

// Bootstrap loads the config at path, resolves drivers and starts the control
// server. The supervisor does not dial until Run.
func Bootstrap(path string) (*Engine, error) {
	// 1. config
	f, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if tel := f.Telemetry; tel.LogLevel != "" || tel.LogJSON {
		logging.Configure(logging.Options{Level: tel.LogLevel, JSON: tel.LogJSON})
	}

	// 2. pipeline plan
	plan, err := pipeline.Build(f)
	if err != nil {
		return nil, errors.WithMessage(err, "pipeline")
	}
	return New(plan, clock.RealClock{})
}

func New(plan *pipeline.Plan, clk clock.Clock) (*Engine, error) {
	tel := plan.File.Telemetry

	// 3. transport server
	srv, err := transport.StartServer(tel.ControlPort)
	if err != nil {
		_ = plan.Sink.Close()
		return nil, errors.Wrap(err, "transport")
	}

	// 4. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := telemetry.NewMetrics(reg)

	// 5. supervisor, reporting into health and metrics
	sup := NewSupervisor(plan, clk, m)
	sup.OnStateChange = func(st State) { srv.SetServing(st == Connected) }

	return &Engine{
		plan:        plan,
		transport:   srv,
		registry:    reg,
		metricsPort: tel.MetricsPort,
		supervisor:  sup,
	}, nil
}
