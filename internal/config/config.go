package config

import (
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"collector/internal/spec"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "COLLECTOR__"
)

// legacyEnv maps the environment names used by earlier deployments of the
// collector onto config keys.
var legacyEnv = map[string]string{
	"RABBIT_HOST":  "queue.host",
	"RABBIT_QUEUE": "queue.name",
	"CH_URL":       "sink.url",
	"CH_USER":      "sink.credentials.user",
	"CH_PASSWORD":  "sink.credentials.password",
	"BATCH_SIZE":   "batch.size_threshold",
	"FLUSH_SECS":   "batch.flush_interval_seconds",
}

// Load merges YAML (if present), the legacy environment names and
// COLLECTOR__ env-vars (delimiter `__`, e.g. COLLECTOR__BATCH__SIZE_THRESHOLD),
// in that order, then applies defaults and validates the result.
func Load(path string) (spec.File, error) {
	var cfg spec.File
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, errors.Wrapf(err, "config: load %s", path)
		}
	}
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return cfg, fmt.Errorf("config schema_version %q not supported (want %q)", sv, SupportedSchema)
	}

	legacy := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if mapped, ok := legacyEnv[key]; ok && value != "" {
			return mapped, value
		}
		return "", nil
	})
	if err := k.Load(legacy, nil); err != nil {
		return cfg, errors.Wrap(err, "config: legacy env")
	}
	prefixed := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	})
	if err := k.Load(prefixed, nil); err != nil {
		return cfg, errors.Wrap(err, "config: env")
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "config: decode")
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(c *spec.File) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}

	q := &c.Queue
	if q.Driver == "" {
		q.Driver = "amqp"
	}
	if q.Host == "" {
		q.Host = "rabbitmq"
	}
	if q.Name == "" {
		q.Name = "events_q"
	}
	if q.Heartbeat == 0 {
		q.Heartbeat = 30 * time.Second
	}
	if q.PollTick == 0 {
		q.PollTick = time.Second
	}
	if q.GroupID == "" {
		q.GroupID = "collector"
	}
	if q.Version == "" {
		q.Version = "2.8.0"
	}

	s := &c.Sink
	if s.Driver == "" {
		s.Driver = "clickhouse-http"
	}
	if s.URL == "" {
		s.URL = "http://clickhouse:8123"
	}
	if s.Credentials.User == "" {
		s.Credentials.User = "admin"
	}
	if s.Credentials.Password == "" {
		s.Credentials.Password = "admin"
	}
	if s.Table == "" {
		s.Table = "shop.events_raw"
	}
	if s.Timeout == 0 {
		s.Timeout = 15 * time.Second
	}

	if c.Batch.SizeThreshold == 0 {
		c.Batch.SizeThreshold = 1500
	}
	if c.Batch.FlushIntervalSeconds == 0 {
		c.Batch.FlushIntervalSeconds = 2.0
	}
	// prefetch must cover at least one full batch
	if q.Prefetch < c.Batch.SizeThreshold {
		q.Prefetch = c.Batch.SizeThreshold
	}

	defaultPolicy(&c.Backoff.Write, 2*time.Second)
	defaultPolicy(&c.Backoff.Reconnect, 3*time.Second)

	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9100
	}
	if c.Telemetry.ControlPort == 0 {
		c.Telemetry.ControlPort = 7070
	}
}

func defaultPolicy(p *spec.BackoffPolicy, interval time.Duration) {
	if p.Kind == "" {
		p.Kind = "constant"
	}
	if p.Interval == 0 {
		p.Interval = interval
	}
	if p.Kind == "exponential" && p.MaxInterval == 0 {
		p.MaxInterval = 20 * p.Interval
	}
}

// Validate reports the first invalid option in c.
func Validate(c spec.File) error {
	switch {
	case c.Batch.SizeThreshold < 1:
		return fmt.Errorf("batch.size_threshold must be >= 1, got %d", c.Batch.SizeThreshold)
	case c.Batch.FlushIntervalSeconds <= 0:
		return fmt.Errorf("batch.flush_interval_seconds must be > 0, got %v", c.Batch.FlushIntervalSeconds)
	case c.Queue.Name == "":
		return errors.New("queue.name must be set")
	case c.Queue.PollTick <= 0:
		return fmt.Errorf("queue.poll_tick must be > 0, got %s", c.Queue.PollTick)
	case c.Sink.Timeout <= 0:
		return fmt.Errorf("sink.timeout must be > 0, got %s", c.Sink.Timeout)
	}
	for name, p := range map[string]spec.BackoffPolicy{"write": c.Backoff.Write, "reconnect": c.Backoff.Reconnect} {
		if p.Kind != "constant" && p.Kind != "exponential" {
			return fmt.Errorf("backoff.%s.kind %q not supported (want constant|exponential)", name, p.Kind)
		}
		if p.Interval < 0 || p.Jitter < 0 || p.Jitter > 1 {
			return fmt.Errorf("backoff.%s: interval must be >= 0 and jitter within [0,1]", name)
		}
	}
	return nil
}
