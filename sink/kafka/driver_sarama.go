package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	"collector/sink"
)

// driver forwards each batch to a Kafka topic with one SendMessages call.
// The producer is created on the first write, so an unreachable cluster is a
// retried write failure rather than a startup error.
type driver struct {
	cfg sink.Config
	sc  *sarama.Config
	p   sarama.SyncProducer
}

func (d *driver) Configure(cfg sink.Config) error {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return fmt.Errorf("kafka-sink: brokers and topic must be set")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.ClientID = "collector"
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Return.Successes = true // required by SyncProducer
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
		sc.Net.WriteTimeout = cfg.Timeout
	}
	if err := sc.Validate(); err != nil {
		return errors.Wrap(err, "kafka-sink: config")
	}
	d.sc = sc
	return nil
}

// BulkWrite ignores ctx: the producer enforces its own timeouts.
func (d *driver) BulkWrite(_ context.Context, records [][]byte) error {
	fail := func(err error) error {
		return &sink.WriteError{Driver: "kafka", Records: len(records), Err: err}
	}
	if d.p == nil {
		p, err := sarama.NewSyncProducer(d.cfg.Brokers, d.sc)
		if err != nil {
			return fail(errors.Wrapf(err, "connect %v", d.cfg.Brokers))
		}
		d.p = p
	}

	msgs := make([]*sarama.ProducerMessage, len(records))
	for i, r := range records {
		msgs[i] = &sarama.ProducerMessage{Topic: d.cfg.Topic, Value: sarama.ByteEncoder(r)}
	}
	if err := d.p.SendMessages(msgs); err != nil {
		return fail(err)
	}
	return nil
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	return d.p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
