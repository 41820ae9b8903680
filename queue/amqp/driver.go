package amqp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"collector/internal/logging"
	"collector/queue"
)

const (
	defaultPort = 5672
	dialTimeout = 30 * time.Second
)

// Driver talks AMQP 0-9-1 (RabbitMQ).
type Driver struct{}

func New() queue.Adapter { return &Driver{} }

// URL turns a bare host (or host:port) into an amqp URL with the broker's
// default guest credentials. Full amqp:// and amqps:// URLs pass through.
func URL(host string) string {
	if strings.HasPrefix(host, "amqp://") || strings.HasPrefix(host, "amqps://") {
		return host
	}
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, defaultPort)
	}
	return "amqp://guest:guest@" + host + "/"
}

func (d *Driver) Dial(ctx context.Context, cfg queue.Config) (queue.Conn, error) {
	// cancelling ctx aborts both the TCP dial and the AMQP handshake
	stop := func() bool { return true }
	dial := func(network, addr string) (net.Conn, error) {
		nd := net.Dialer{Timeout: dialTimeout}
		conn, err := nd.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
			_ = conn.Close()
			return nil, err
		}
		stop = context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
		return conn, nil
	}

	conn, err := amqp.DialConfig(URL(cfg.Host), amqp.Config{
		Heartbeat: cfg.Heartbeat,
		Locale:    "en_US",
		Dial:      dial,
	})
	interrupted := !stop()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, errors.Wrapf(err, "amqp: dial %s", cfg.Host)
	}
	if interrupted {
		_ = conn.Close()
		return nil, errors.Wrapf(ctx.Err(), "amqp: dial %s", cfg.Host)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "amqp: open channel")
	}
	return &Conn{
		conn:   conn,
		ch:     ch,
		closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		chDone: ch.NotifyClose(make(chan *amqp.Error, 1)),
		tag:    "collector-" + uuid.NewString(),
	}, nil
}

type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	tag  string

	closed     chan *amqp.Error
	chDone     chan *amqp.Error
	deliveries <-chan amqp.Delivery
}

func (c *Conn) DeclareQueue(_ context.Context, name string) error {
	// durable, not auto-deleted, not exclusive
	_, err := c.ch.QueueDeclare(name, true, false, false, false, nil)
	return errors.Wrapf(err, "amqp: declare %s", name)
}

func (c *Conn) SetPrefetch(n int) error {
	return errors.Wrap(c.ch.Qos(n, 0, false), "amqp: qos")
}

func (c *Conn) Consume(ctx context.Context, name string) error {
	d, err := c.ch.ConsumeWithContext(ctx, name, c.tag, false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "amqp: consume %s", name)
	}
	c.deliveries = d
	logging.L().Debug("amqp: consumer registered", "queue", name, "consumer_tag", c.tag)
	return nil
}

func (c *Conn) Poll(ctx context.Context, timeout time.Duration) (queue.Delivery, bool, error) {
	if c.deliveries == nil {
		return queue.Delivery{}, false, errors.New("amqp: poll before consume")
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return queue.Delivery{}, false, ctx.Err()
	case err := <-c.closed:
		return queue.Delivery{}, false, closeError("connection", err)
	case err := <-c.chDone:
		return queue.Delivery{}, false, closeError("channel", err)
	case d, ok := <-c.deliveries:
		if !ok {
			return queue.Delivery{}, false, errors.New("amqp: delivery channel closed")
		}
		return queue.Delivery{Body: d.Body, Handle: d.DeliveryTag, Redelivered: d.Redelivered}, true, nil
	case <-t.C:
		return queue.Delivery{}, false, nil
	}
}

func (c *Conn) Ack(h queue.AckHandle) error {
	tag, ok := h.(uint64)
	if !ok {
		return fmt.Errorf("amqp: foreign ack handle %T", h)
	}
	return errors.Wrapf(c.ch.Ack(tag, false), "amqp: ack %d", tag)
}

// AckBatch acks hs with a single multiple-ack on the highest tag. The caller
// hands in every delivery outstanding on this channel, so the broker settles
// exactly the batch, all at once.
func (c *Conn) AckBatch(hs []queue.AckHandle) error {
	var last uint64
	for _, h := range hs {
		tag, ok := h.(uint64)
		if !ok {
			return fmt.Errorf("amqp: foreign ack handle %T", h)
		}
		if tag > last {
			last = tag
		}
	}
	if last == 0 {
		return nil
	}
	return errors.Wrapf(c.ch.Ack(last, true), "amqp: ack up to %d", last)
}

func (c *Conn) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	// closing the connection closes the channel and returns unacked
	// deliveries to the queue
	return c.conn.Close()
}

func closeError(what string, err *amqp.Error) error {
	if err == nil {
		return fmt.Errorf("amqp: %s closed", what)
	}
	return errors.Wrapf(err, "amqp: %s closed", what)
}
