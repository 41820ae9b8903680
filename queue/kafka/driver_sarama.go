package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	"collector/internal/logging"
	"collector/queue"
)

// SaramaDriver treats a Kafka topic as the durable queue. Acks mark the
// message on the consumer-group session that delivered it; marked offsets are
// committed by sarama's auto-commit loop.
type SaramaDriver struct{}

func New() queue.Adapter { return &SaramaDriver{} }

func (d *SaramaDriver) Dial(_ context.Context, cfg queue.Config) (queue.Conn, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "collector"
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second
	if cfg.Heartbeat > 0 {
		sc.Consumer.Group.Session.Timeout = cfg.Heartbeat
		sc.Consumer.Group.Heartbeat.Interval = cfg.Heartbeat / 3
	}

	brokers := cfg.Brokers
	if len(brokers) == 0 {
		brokers = []string{cfg.Host}
	}
	cl, err := sarama.NewClient(brokers, sc)
	if err != nil {
		return nil, errors.Wrapf(err, "kafka: connect %v", brokers)
	}
	return &saramaConn{
		cfg:  sc,
		cl:   cl,
		gid:  cfg.GroupID,
		msgs: make(chan *handle),
		errs: make(chan error, 1),
	}, nil
}

// handle is the AckHandle issued by this driver: the message together with
// the group session that delivered it.
type handle struct {
	msg  *sarama.ConsumerMessage
	sess sarama.ConsumerGroupSession
}

type saramaConn struct {
	cfg   *sarama.Config
	cl    sarama.Client
	gid   string
	group sarama.ConsumerGroup

	msgs chan *handle
	errs chan error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *saramaConn) DeclareQueue(_ context.Context, name string) error {
	admin, err := sarama.NewClusterAdminFromClient(c.cl)
	if err != nil {
		return errors.Wrap(err, "kafka: cluster admin")
	}
	// the admin shares c.cl; closing it here would close the client
	err = admin.CreateTopic(name, &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}, false)
	var te *sarama.TopicError
	if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
		return nil
	}
	return errors.Wrapf(err, "kafka: create topic %s", name)
}

// SetPrefetch sizes the per-partition message channel. It only takes effect
// when called before Consume.
func (c *saramaConn) SetPrefetch(n int) error {
	if c.group != nil {
		return errors.New("kafka: prefetch must be set before consume")
	}
	c.cfg.ChannelBufferSize = n
	return nil
}

func (c *saramaConn) Consume(ctx context.Context, name string) error {
	group, err := sarama.NewConsumerGroupFromClient(c.gid, c.cl)
	if err != nil {
		return errors.Wrapf(err, "kafka: join group %s", c.gid)
	}
	c.group = group

	ctx, c.cancel = context.WithCancel(ctx)
	handler := &groupHandler{msgs: c.msgs}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume returns on every rebalance
			if err := group.Consume(ctx, []string{name}, handler); err != nil {
				c.fail(err)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			c.fail(err)
		}
	}()
	return nil
}

func (c *saramaConn) fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *saramaConn) Poll(ctx context.Context, timeout time.Duration) (queue.Delivery, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return queue.Delivery{}, false, ctx.Err()
	case err := <-c.errs:
		return queue.Delivery{}, false, errors.Wrap(err, "kafka: consumer group")
	case d := <-c.msgs:
		return queue.Delivery{Body: d.msg.Value, Handle: d}, true, nil
	case <-t.C:
		return queue.Delivery{}, false, nil
	}
}

func (c *saramaConn) Ack(h queue.AckHandle) error {
	kh, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("kafka: foreign ack handle %T", h)
	}
	// marking on a session ended by a rebalance is a no-op; the message is
	// redelivered to the next owner of the partition
	kh.sess.MarkMessage(kh.msg, "")
	return nil
}

func (c *saramaConn) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.group != nil {
		_ = c.group.Close()
	}
	c.wg.Wait()
	return c.cl.Close()
}

type groupHandler struct {
	msgs chan<- *handle
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	logging.L().Info("kafka: session ended; unmarked messages will be redelivered", "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.msgs <- &handle{msg: msg, sess: sess}:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}
