package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collector/queue"
)

func dial(t *testing.T, b *Broker, name string, prefetch int) queue.Conn {
	t.Helper()
	ctx := context.Background()
	c, err := b.Adapter().Dial(ctx, queue.Config{})
	require.NoError(t, err)
	require.NoError(t, c.DeclareQueue(ctx, name))
	require.NoError(t, c.SetPrefetch(prefetch))
	require.NoError(t, c.Consume(ctx, name))
	return c
}

func poll(t *testing.T, c queue.Conn) queue.Delivery {
	t.Helper()
	d, ok, err := c.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func TestDeclareQueue_Idempotent(t *testing.T) {
	b := NewBroker()
	b.Publish("q", []byte("A"))

	c := dial(t, b, "q", 0)
	require.NoError(t, c.DeclareQueue(context.Background(), "q"))
	require.NoError(t, c.DeclareQueue(context.Background(), "q"))

	ready, unacked := b.Depth("q")
	assert.Equal(t, 1, ready)
	assert.Equal(t, 0, unacked)
}

func TestPrefetchBoundsInflight(t *testing.T) {
	b := NewBroker()
	for _, m := range []string{"A", "B", "C"} {
		b.Publish("q", []byte(m))
	}
	c := dial(t, b, "q", 2)

	first := poll(t, c)
	poll(t, c)
	_, ok, err := c.Poll(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "third delivery must wait for an ack")

	require.NoError(t, c.Ack(first.Handle))
	assert.Equal(t, []byte("C"), poll(t, c).Body)
}

func TestCloseRedeliversUnackedInOrder(t *testing.T) {
	b := NewBroker()
	for _, m := range []string{"A", "B", "C"} {
		b.Publish("q", []byte(m))
	}
	c := dial(t, b, "q", 0)
	a := poll(t, c)
	poll(t, c)
	require.NoError(t, c.Ack(a.Handle))
	require.NoError(t, c.Close())

	ready, unacked := b.Depth("q")
	assert.Equal(t, 2, ready)
	assert.Equal(t, 0, unacked)

	c2 := dial(t, b, "q", 0)
	d := poll(t, c2)
	assert.Equal(t, []byte("B"), d.Body)
	assert.True(t, d.Redelivered)
	assert.False(t, poll(t, c2).Redelivered)
}

func TestSeverFailsPollAndAck(t *testing.T) {
	b := NewBroker()
	b.Publish("q", []byte("A"))
	c := dial(t, b, "q", 0)
	d := poll(t, c)

	b.Sever()

	_, _, err := c.Poll(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrSevered)
	assert.Error(t, c.Ack(d.Handle))
	ready, _ := b.Depth("q")
	assert.Equal(t, 1, ready)
}

func TestPollWakesOnPublish(t *testing.T) {
	b := NewBroker()
	c := dial(t, b, "q", 0)
	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Publish("q", []byte("late"))
	}()
	assert.Equal(t, []byte("late"), poll(t, c).Body)
}

func TestFailDials(t *testing.T) {
	b := NewBroker()
	b.FailDials(assert.AnError)
	_, err := b.Adapter().Dial(context.Background(), queue.Config{})
	assert.ErrorIs(t, err, assert.AnError)
	_, err = b.Adapter().Dial(context.Background(), queue.Config{})
	assert.NoError(t, err)
	assert.Equal(t, 1, b.Dials())
}

func TestAckBatch_AllOrNothing(t *testing.T) {
	b := NewBroker()
	for _, m := range []string{"A", "B", "C"} {
		b.Publish("q", []byte(m))
	}
	c := dial(t, b, "q", 0).(*Conn)
	a, bb, cc := poll(t, c), poll(t, c), poll(t, c)

	err := c.AckBatch([]queue.AckHandle{a.Handle, uint64(99), cc.Handle})
	assert.Error(t, err)
	_, unacked := b.Depth("q")
	assert.Equal(t, 3, unacked, "a bad handle must leave the whole batch unacked")

	require.NoError(t, c.AckBatch([]queue.AckHandle{a.Handle, bb.Handle, cc.Handle}))
	ready, unacked := b.Depth("q")
	assert.Zero(t, ready)
	assert.Zero(t, unacked)
}

func TestAckKeepsOrderBounded(t *testing.T) {
	b := NewBroker()
	b.Publish("q", []byte("held"))
	c := dial(t, b, "q", 3).(*Conn)
	held := poll(t, c)

	for i := 0; i < 100; i++ {
		b.Publish("q", []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, c.Ack(poll(t, c).Handle))
	}
	assert.Len(t, c.order, 1)

	require.NoError(t, c.Ack(held.Handle))
	assert.Empty(t, c.order)
}
