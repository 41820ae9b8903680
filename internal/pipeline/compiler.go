package pipeline

import (
	"time"

	"github.com/pkg/errors"

	"collector/internal/spec"
	"collector/queue"
	"collector/sink"
)

// Plan is a loaded config resolved into drivers. The sink is configured and
// ready; the queue adapter is dialed later, once per connection attempt.
type Plan struct {
	File spec.File

	Queue       queue.Adapter
	QueueConfig queue.Config
	QueueName   string
	Prefetch    int
	PollTick    time.Duration

	Sink sink.Adapter

	BatchSize     int
	FlushInterval time.Duration
}

// Build resolves f against the registered queue and sink drivers.
func Build(f spec.File) (*Plan, error) {
	q, err := queue.NewAdapter(f.Queue.Driver)
	if err != nil {
		return nil, err
	}

	s, err := sink.NewAdapter(f.Sink.Driver)
	if err != nil {
		return nil, err
	}
	err = s.Configure(sink.Config{
		URL:          f.Sink.URL,
		User:         f.Sink.Credentials.User,
		Password:     f.Sink.Credentials.Password,
		Database:     f.Sink.Database,
		Table:        f.Sink.Table,
		Timeout:      f.Sink.Timeout,
		Brokers:      f.Sink.Brokers,
		Topic:        f.Sink.Topic,
		RequiredAcks: f.Sink.RequiredAcks,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "sink %s", f.Sink.Driver)
	}

	prefetch := f.Queue.Prefetch
	if prefetch < f.Batch.SizeThreshold {
		prefetch = f.Batch.SizeThreshold
	}

	return &Plan{
		File:  f,
		Queue: q,
		QueueConfig: queue.Config{
			Host:      f.Queue.Host,
			Heartbeat: f.Queue.Heartbeat,
			Brokers:   f.Queue.Brokers,
			GroupID:   f.Queue.GroupID,
			Version:   f.Queue.Version,
		},
		QueueName:     f.Queue.Name,
		Prefetch:      prefetch,
		PollTick:      f.Queue.PollTick,
		Sink:          s,
		BatchSize:     f.Batch.SizeThreshold,
		FlushInterval: f.Batch.FlushInterval(),
	}, nil
}
