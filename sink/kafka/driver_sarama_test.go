package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collector/sink"
)

func TestDriver_BulkWriteSendsWholeBatch(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageAndSucceed()
	p.ExpectSendMessageAndSucceed()
	d := &driver{cfg: sink.Config{Topic: "events_raw"}, p: p}

	require.NoError(t, d.BulkWrite(context.Background(), [][]byte{[]byte("A"), []byte("B")}))
	require.NoError(t, d.Close())
}

func TestDriver_BulkWriteFailure(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	d := &driver{cfg: sink.Config{Topic: "events_raw"}, p: p}

	err := d.BulkWrite(context.Background(), [][]byte{[]byte("A")})
	var we *sink.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 1, we.Records)
	require.NoError(t, d.Close())
}

func TestDriver_ConfigureValidates(t *testing.T) {
	assert.Error(t, (&driver{}).Configure(sink.Config{Topic: "t"}))
	assert.Error(t, (&driver{}).Configure(sink.Config{Brokers: []string{"k:9092"}}))
}

func TestDriver_UnreachableClusterIsWriteError(t *testing.T) {
	d := &driver{}
	require.NoError(t, d.Configure(sink.Config{Brokers: []string{"127.0.0.1:1"}, Topic: "events_raw"}))
	d.sc.Metadata.Retry.Max = 0

	err := d.BulkWrite(context.Background(), [][]byte{[]byte("A")})
	var we *sink.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 1, we.Records)
	assert.Nil(t, d.p)
	require.NoError(t, d.Close())
}
