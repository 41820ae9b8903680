package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"collector/internal/logging"
	"collector/internal/retry"
	"collector/internal/telemetry"
	"collector/queue"
)

// Writer is the part of sink.Adapter the flusher needs.
type Writer interface {
	BulkWrite(ctx context.Context, records [][]byte) error
}

// Acker is the part of queue.Conn the flusher needs.
type Acker interface {
	Ack(h queue.AckHandle) error
}

type FlusherConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// Backoff is waited out after every failed write and reset after a
	// successful one.
	Backoff backoff.BackOff
	Clock   clock.Clock
	Metrics *telemetry.Metrics
}

// Flusher decides when the buffer is written to the sink and acknowledges
// the batch once the write succeeded. Like the Buffer it wraps, it belongs to
// a single consume loop.
type Flusher struct {
	buf     *Buffer
	writer  Writer
	acker   Acker
	cfg     FlusherConfig
	flushes uint64
}

func NewFlusher(buf *Buffer, w Writer, a Acker, cfg FlusherConfig) *Flusher {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = &backoff.ZeroBackOff{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}
	return &Flusher{buf: buf, writer: w, acker: a, cfg: cfg}
}

// OnMessage buffers one delivery and flushes when the batch is full or old
// enough. Write failures are logged and left for the next trigger; only
// connection faults and context errors are returned.
func (f *Flusher) OnMessage(ctx context.Context, record []byte, h queue.AckHandle) error {
	f.buf.Append(record, h)
	f.cfg.Metrics.SetBuffered(f.buf.Size())
	if f.due() {
		return f.flushDue(ctx)
	}
	return nil
}

// OnTick flushes a non-empty buffer that is full or whose age reached the
// flush interval. A full buffer is only seen here after a failed write.
func (f *Flusher) OnTick(ctx context.Context) error {
	if f.buf.Size() == 0 || !f.due() {
		return nil
	}
	return f.flushDue(ctx)
}

func (f *Flusher) due() bool {
	return f.buf.Size() >= f.cfg.BatchSize || f.buf.PeekAge() >= f.cfg.FlushInterval
}

func (f *Flusher) flushDue(ctx context.Context) error {
	if err := f.Flush(ctx); err != nil && !isWriteError(err) {
		return err
	}
	return nil
}

// Flush writes the whole buffer as one batch. On success every handle is
// acked and the buffer age restarts. On failure nothing is acked, the batch
// goes back to the front of the buffer and the write backoff is waited out
// before a *WriteError is returned.
func (f *Flusher) Flush(ctx context.Context) error {
	if f.buf.Size() == 0 {
		return nil
	}
	batch := f.buf.Drain()
	clk := f.cfg.Clock

	start := clk.Now()
	err := f.writer.BulkWrite(ctx, batch.Records())
	took := clk.Since(start)
	if err != nil {
		f.buf.Requeue(batch)
		f.cfg.Metrics.RecordFlush(telemetry.FlushSinkError, batch.Len(), took)
		f.cfg.Metrics.SetBuffered(f.buf.Size())
		logging.L().Warn("insert failed (retry, not ack)",
			"records", batch.Len(), "buffered", f.buf.Size(), "err", err)
		if _, werr := retry.Wait(ctx, clk, f.cfg.Backoff); werr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return &WriteError{Records: batch.Len(), Err: err}
	}

	if n, err := f.ack(batch); err != nil {
		f.cfg.Metrics.RecordFlush(telemetry.FlushAckError, batch.Len(), took)
		f.cfg.Metrics.RecordAcked(n)
		f.cfg.Metrics.SetBuffered(0)
		return &ConnectionFault{Op: "ack", Err: err}
	}
	f.buf.Commit()
	f.cfg.Backoff.Reset()
	f.flushes++
	f.cfg.Metrics.RecordFlush(telemetry.FlushOK, batch.Len(), took)
	f.cfg.Metrics.RecordAcked(batch.Len())
	f.cfg.Metrics.SetBuffered(f.buf.Size())
	logging.L().Debug("flushed", "records", batch.Len(), "took", took, "flush", f.flushes)
	return nil
}

// ack acknowledges every entry of batch and reports how many were acked.
// Drivers implementing queue.BatchAcker ack all or nothing; otherwise a
// failure part way leaves a prefix acked and the rest to redelivery.
func (f *Flusher) ack(batch Batch) (int, error) {
	if ba, ok := f.acker.(queue.BatchAcker); ok {
		hs := make([]queue.AckHandle, batch.Len())
		for i, e := range batch.Entries {
			hs[i] = e.Handle
		}
		if err := ba.AckBatch(hs); err != nil {
			return 0, errors.Wrapf(err, "ack batch of %d", batch.Len())
		}
		return batch.Len(), nil
	}
	for i, e := range batch.Entries {
		if err := f.acker.Ack(e.Handle); err != nil {
			return i, errors.Wrapf(err, "ack %d of %d", i+1, batch.Len())
		}
	}
	return batch.Len(), nil
}

// Buffered reports how many records are waiting for a successful flush.
func (f *Flusher) Buffered() int { return f.buf.Size() }
