// Package queue is the durable-queue boundary of the collector. Drivers
// (amqp, kafka) register an Adapter by name; the supervisor dials a Conn per
// connection attempt and drives it through Poll.
package queue

import (
	"context"
	"time"
)

// AckHandle identifies one delivered message. It is opaque to everything but
// the driver that issued it and is valid only on the Conn that delivered it.
type AckHandle any

// Delivery is a single message handed out by Poll.
type Delivery struct {
	Body        []byte
	Handle      AckHandle
	Redelivered bool
}

// Config is the driver-independent connection setup.
type Config struct {
	Host      string
	Heartbeat time.Duration

	Brokers []string
	GroupID string
	Version string
}

type Adapter interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is one live broker connection. It is owned by a single consume loop
// and is not safe for concurrent use.
type Conn interface {
	// DeclareQueue makes sure a durable queue exists. Declaring an existing
	// queue with the same parameters is a no-op.
	DeclareQueue(ctx context.Context, name string) error
	// SetPrefetch bounds the number of delivered but unacknowledged messages.
	SetPrefetch(n int) error
	Consume(ctx context.Context, name string) error
	// Poll blocks for at most timeout. ok is false when nothing arrived.
	Poll(ctx context.Context, timeout time.Duration) (d Delivery, ok bool, err error)
	Ack(h AckHandle) error
	Close() error
}

// BatchAcker is implemented by drivers that can acknowledge a whole batch in
// one broker operation, so that a failure leaves none of it acked. hs is in
// delivery order.
type BatchAcker interface {
	AckBatch(hs []AckHandle) error
}
