package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, SupportedSchema, cfg.SchemaVersion)
	assert.Equal(t, "amqp", cfg.Queue.Driver)
	assert.Equal(t, "events_q", cfg.Queue.Name)
	assert.Equal(t, 30*time.Second, cfg.Queue.Heartbeat)
	assert.Equal(t, 1500, cfg.Batch.SizeThreshold)
	assert.Equal(t, 1500, cfg.Queue.Prefetch)
	assert.Equal(t, 2*time.Second, cfg.Batch.FlushInterval())
	assert.Equal(t, "clickhouse-http", cfg.Sink.Driver)
	assert.Equal(t, "shop.events_raw", cfg.Sink.Table)
	assert.Equal(t, 15*time.Second, cfg.Sink.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Backoff.Write.Interval)
	assert.Equal(t, 3*time.Second, cfg.Backoff.Reconnect.Interval)
	assert.Equal(t, "constant", cfg.Backoff.Reconnect.Kind)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, `schema_version: v1
queue:
  host: mq.internal
  name: clicks
  prefetch: 10
batch:
  size_threshold: 200
  flush_interval_seconds: 0.5
sink:
  url: http://ch:8123
  credentials: { user: writer, password: secret }
backoff:
  reconnect: { kind: exponential, interval: 1s }
`)
	t.Setenv("COLLECTOR__BATCH__SIZE_THRESHOLD", "300")
	t.Setenv("CH_USER", "legacy-user")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mq.internal", cfg.Queue.Host)
	assert.Equal(t, "clicks", cfg.Queue.Name)
	assert.Equal(t, 300, cfg.Batch.SizeThreshold)
	// prefetch raised to one full batch
	assert.Equal(t, 300, cfg.Queue.Prefetch)
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.FlushInterval())
	assert.Equal(t, "legacy-user", cfg.Sink.Credentials.User)
	assert.Equal(t, "secret", cfg.Sink.Credentials.Password)
	assert.Equal(t, "exponential", cfg.Backoff.Reconnect.Kind)
	assert.Equal(t, 20*time.Second, cfg.Backoff.Reconnect.MaxInterval)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("RABBIT_HOST", "rabbit-2")
	t.Setenv("RABBIT_QUEUE", "q2")
	t.Setenv("BATCH_SIZE", "50")
	t.Setenv("FLUSH_SECS", "7.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "rabbit-2", cfg.Queue.Host)
	assert.Equal(t, "q2", cfg.Queue.Name)
	assert.Equal(t, 50, cfg.Batch.SizeThreshold)
	assert.Equal(t, 7500*time.Millisecond, cfg.Batch.FlushInterval())
}

func TestLoad_InvalidSchema(t *testing.T) {
	path := writeFile(t, "schema_version: v999\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"negative batch size": "batch: { size_threshold: -1 }\n",
		"negative interval":   "batch: { flush_interval_seconds: -2 }\n",
		"unknown backoff":     "backoff: { write: { kind: fibonacci } }\n",
		"jitter out of range": "backoff: { write: { kind: exponential, jitter: 2 } }\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "collector.example.yml"))
	require.NoError(t, err)

	assert.Equal(t, "exponential", cfg.Backoff.Reconnect.Kind)
	assert.Equal(t, time.Minute, cfg.Backoff.Reconnect.MaxInterval)
	assert.InDelta(t, 0.2, cfg.Backoff.Reconnect.Jitter, 1e-9)
	assert.Equal(t, time.Second, cfg.Queue.PollTick)
	assert.Equal(t, 7070, cfg.Telemetry.ControlPort)
}
