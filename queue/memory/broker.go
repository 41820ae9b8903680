// Package memory provides an in-process durable-queue broker. It follows the
// AMQP delivery model closely enough for tests and local runs: durable queues,
// per-connection prefetch, and redelivery of unacknowledged messages when the
// connection that received them goes away.
// DO NOT USE this where messages must survive the process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"collector/queue"
)

// ErrSevered is returned by Poll on connections cut by Broker.Sever.
var ErrSevered = errors.New("memory: connection severed")

type message struct {
	body        []byte
	redelivered bool
}

type memQueue struct {
	ready   []message
	unacked int
}

type Broker struct {
	mu       sync.Mutex
	queues   map[string]*memQueue
	conns    map[*Conn]struct{}
	wake     chan struct{}
	dialErrs []error
	dials    int
}

func NewBroker() *Broker {
	return &Broker{
		queues: map[string]*memQueue{},
		conns:  map[*Conn]struct{}{},
		wake:   make(chan struct{}),
	}
}

// broadcastLocked wakes every poller. b.mu must be held.
func (b *Broker) broadcastLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// Publish appends body to the named queue, creating it if needed.
func (b *Broker) Publish(name string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.declareLocked(name)
	q.ready = append(q.ready, message{body: append([]byte(nil), body...)})
	b.broadcastLocked()
}

func (b *Broker) declareLocked(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{}
		b.queues[name] = q
	}
	return q
}

// Depth reports ready and delivered-but-unacked counts for a queue.
func (b *Broker) Depth(name string) (ready, unacked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return len(q.ready), q.unacked
	}
	return 0, 0
}

// FailDials makes the next len(errs) Dial calls fail with errs in order.
func (b *Broker) FailDials(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErrs = append(b.dialErrs, errs...)
}

// Dials reports how many Dial calls succeeded.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Sever drops every open connection, as a broker restart would.
func (b *Broker) Sever() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		c.releaseLocked(ErrSevered)
	}
	b.broadcastLocked()
}

// Adapter returns a queue.Adapter dialing this broker. cfg.Host is ignored.
func (b *Broker) Adapter() queue.Adapter { return adapter{b} }

type adapter struct{ b *Broker }

func (a adapter) Dial(_ context.Context, _ queue.Config) (queue.Conn, error) {
	b := a.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.dialErrs) > 0 {
		err := b.dialErrs[0]
		b.dialErrs = b.dialErrs[1:]
		return nil, err
	}
	b.dials++
	c := &Conn{b: b, inflight: map[uint64]message{}}
	b.conns[c] = struct{}{}
	return c, nil
}

type Conn struct {
	b        *Broker
	queue    string
	prefetch int
	nextTag  uint64
	inflight map[uint64]message
	order    []uint64
	err      error
}

func (c *Conn) DeclareQueue(_ context.Context, name string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.b.declareLocked(name)
	return nil
}

func (c *Conn) SetPrefetch(n int) error {
	if n < 0 {
		return fmt.Errorf("memory: negative prefetch %d", n)
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.prefetch = n
	return nil
}

func (c *Conn) Consume(_ context.Context, name string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if _, ok := c.b.queues[name]; !ok {
		return fmt.Errorf("memory: no queue %q", name)
	}
	c.queue = name
	return nil
}

func (c *Conn) Poll(ctx context.Context, timeout time.Duration) (queue.Delivery, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		c.b.mu.Lock()
		if c.err != nil {
			err := c.err
			c.b.mu.Unlock()
			return queue.Delivery{}, false, err
		}
		if c.queue == "" {
			c.b.mu.Unlock()
			return queue.Delivery{}, false, errors.New("memory: poll before consume")
		}
		q := c.b.queues[c.queue]
		if len(q.ready) > 0 && (c.prefetch == 0 || len(c.inflight) < c.prefetch) {
			m := q.ready[0]
			q.ready = q.ready[1:]
			q.unacked++
			c.nextTag++
			c.inflight[c.nextTag] = m
			c.order = append(c.order, c.nextTag)
			c.b.mu.Unlock()
			return queue.Delivery{Body: m.body, Handle: c.nextTag, Redelivered: m.redelivered}, true, nil
		}
		wake := c.b.wake
		c.b.mu.Unlock()

		select {
		case <-ctx.Done():
			return queue.Delivery{}, false, ctx.Err()
		case <-t.C:
			return queue.Delivery{}, false, nil
		case <-wake:
		}
	}
}

func (c *Conn) Ack(h queue.AckHandle) error {
	tag, ok := h.(uint64)
	if !ok {
		return fmt.Errorf("memory: foreign ack handle %T", h)
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if _, ok := c.inflight[tag]; !ok {
		return fmt.Errorf("memory: unknown delivery tag %d", tag)
	}
	c.settleLocked(tag)
	c.b.broadcastLocked()
	return nil
}

// AckBatch acks every handle in hs or, if any of them is invalid, none.
func (c *Conn) AckBatch(hs []queue.AckHandle) error {
	tags := make([]uint64, len(hs))
	for i, h := range hs {
		tag, ok := h.(uint64)
		if !ok {
			return fmt.Errorf("memory: foreign ack handle %T", h)
		}
		tags[i] = tag
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	seen := make(map[uint64]struct{}, len(tags))
	for _, tag := range tags {
		if _, ok := c.inflight[tag]; !ok {
			return fmt.Errorf("memory: unknown delivery tag %d", tag)
		}
		if _, dup := seen[tag]; dup {
			return fmt.Errorf("memory: delivery tag %d acked twice", tag)
		}
		seen[tag] = struct{}{}
	}
	for _, tag := range tags {
		c.settleLocked(tag)
	}
	c.b.broadcastLocked()
	return nil
}

// settleLocked forgets an acked delivery. c.order stays the size of
// c.inflight.
func (c *Conn) settleLocked(tag uint64) {
	delete(c.inflight, tag)
	for i, t := range c.order {
		if t == tag {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.b.queues[c.queue].unacked--
}

func (c *Conn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.err == nil {
		c.releaseLocked(errors.New("memory: connection closed"))
		c.b.broadcastLocked()
	}
	return nil
}

// releaseLocked puts unacked deliveries back at the head of the queue in
// their original order and marks c dead.
func (c *Conn) releaseLocked(reason error) {
	if c.err != nil {
		return
	}
	c.err = reason
	delete(c.b.conns, c)
	if c.queue == "" {
		return
	}
	q := c.b.queues[c.queue]
	back := make([]message, 0, len(c.inflight))
	for _, tag := range c.order {
		if m, ok := c.inflight[tag]; ok {
			m.redelivered = true
			back = append(back, m)
		}
	}
	q.unacked -= len(back)
	q.ready = append(back, q.ready...)
	c.inflight = map[uint64]message{}
	c.order = nil
}
