package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collector/internal/logging"
)

const MetricsPrefix = "collector_"

type FlushResult string

const (
	FlushOK        FlushResult = "ok"
	FlushSinkError FlushResult = "sink_error"
	FlushAckError  FlushResult = "ack_error"
)

type Metrics struct {
	received      prometheus.Counter
	redelivered   prometheus.Counter
	written       prometheus.Counter
	acked         prometheus.Counter
	flushes       *prometheus.CounterVec
	flushDuration prometheus.Histogram
	buffered      prometheus.Gauge
	reconnects    prometheus.Counter
	connected     prometheus.Gauge
}

// NewMetrics registers the collector metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		received: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_received_total",
			Help: "Number of messages delivered by the queue",
		}),
		redelivered: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_redelivered_total",
			Help: "Number of delivered messages flagged as redeliveries by the broker",
		}),
		written: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_written_total",
			Help: "Number of records written to the sink by successful flushes",
		}),
		acked: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "records_acked_total",
			Help: "Number of messages acknowledged on the queue",
		}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricsPrefix + "flushes_total",
			Help: "Number of flush attempts grouped by result",
		}, []string{"result"}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricsPrefix + "flush_duration_seconds",
			Help:    "Wall time of sink bulk writes",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 13),
		}),
		buffered: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricsPrefix + "buffered_records",
			Help: "Records held in the batch buffer awaiting a successful flush",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: MetricsPrefix + "reconnects_total",
			Help: "Number of times the queue connection was lost or could not be established",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: MetricsPrefix + "queue_connected",
			Help: "1 while the consumer holds a live queue connection",
		}),
	}
}

func (m *Metrics) RecordReceived(redelivered bool) {
	m.received.Inc()
	if redelivered {
		m.redelivered.Inc()
	}
}

func (m *Metrics) RecordFlush(result FlushResult, records int, took time.Duration) {
	m.flushes.WithLabelValues(string(result)).Inc()
	m.flushDuration.Observe(took.Seconds())
	if result == FlushOK {
		m.written.Add(float64(records))
	}
}

func (m *Metrics) RecordAcked(n int)    { m.acked.Add(float64(n)) }
func (m *Metrics) SetBuffered(n int)    { m.buffered.Set(float64(n)) }
func (m *Metrics) RecordReconnect()     { m.reconnects.Inc() }
func (m *Metrics) SetConnected(up bool) { m.connected.Set(boolToFloat(up)) }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Serve exposes /metrics for g on port until ctx is done.
func Serve(ctx context.Context, port int, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logging.L().Info("metrics: serving", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
