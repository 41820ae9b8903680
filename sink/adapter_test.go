package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSink struct{}

func (nopSink) Configure(Config) error                    { return nil }
func (nopSink) BulkWrite(context.Context, [][]byte) error { return nil }
func (nopSink) Close() error                              { return nil }

func TestJoinRows(t *testing.T) {
	got := JoinRows([][]byte{[]byte(`{"a":1}`), []byte(`{"a":2}`)})
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(got))
	assert.Empty(t, JoinRows(nil))
}

func TestWriteError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&WriteError{Driver: "clickhouse-http", Records: 3, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 records")

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "clickhouse-http", we.Driver)

	withStatus := &WriteError{Driver: "clickhouse-http", Records: 1, Status: 500, Err: cause}
	assert.Contains(t, withStatus.Error(), "status 500")
}

func TestRegistry(t *testing.T) {
	Register("nop", func() Adapter { return nopSink{} })
	a, err := NewAdapter("nop")
	require.NoError(t, err)
	assert.IsType(t, nopSink{}, a)

	_, err = NewAdapter("tape-drive")
	assert.Error(t, err)
}
