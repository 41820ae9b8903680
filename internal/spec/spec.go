package spec

import "time"

type Credentials struct {
	User     string `koanf:"user" yaml:"user"`
	Password string `koanf:"password" yaml:"password"`
}

type QueueSpec struct {
	Driver    string        `koanf:"driver" yaml:"driver"` // amqp | kafka
	Host      string        `koanf:"host" yaml:"host"`     // host, host:port or amqp:// URL
	Name      string        `koanf:"name" yaml:"name"`
	Prefetch  int           `koanf:"prefetch" yaml:"prefetch"` // raised to batch size when lower
	Heartbeat time.Duration `koanf:"heartbeat" yaml:"heartbeat"`
	PollTick  time.Duration `koanf:"poll_tick" yaml:"poll_tick"`

	// kafka driver only
	Brokers []string `koanf:"brokers" yaml:"brokers,omitempty"`
	GroupID string   `koanf:"group_id" yaml:"group_id,omitempty"`
	Version string   `koanf:"version" yaml:"version,omitempty"`
}

type SinkSpec struct {
	Driver      string        `koanf:"driver" yaml:"driver"` // clickhouse-http | clickhouse-native | kafka | stdout
	URL         string        `koanf:"url" yaml:"url"`
	Credentials Credentials   `koanf:"credentials" yaml:"credentials"`
	Database    string        `koanf:"database" yaml:"database,omitempty"`
	Table       string        `koanf:"table" yaml:"table"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout"`

	// kafka driver only
	Brokers      []string `koanf:"brokers" yaml:"brokers,omitempty"`
	Topic        string   `koanf:"topic" yaml:"topic,omitempty"`
	RequiredAcks int16    `koanf:"required_acks" yaml:"required_acks,omitempty"`
}

type BatchSpec struct {
	SizeThreshold        int     `koanf:"size_threshold" yaml:"size_threshold"`
	FlushIntervalSeconds float64 `koanf:"flush_interval_seconds" yaml:"flush_interval_seconds"`
}

func (b BatchSpec) FlushInterval() time.Duration {
	return time.Duration(b.FlushIntervalSeconds * float64(time.Second))
}

// BackoffPolicy selects a retry delay schedule. Kind is "constant" or
// "exponential"; MaxInterval and Jitter apply to exponential only.
type BackoffPolicy struct {
	Kind        string        `koanf:"kind" yaml:"kind"`
	Interval    time.Duration `koanf:"interval" yaml:"interval"`
	MaxInterval time.Duration `koanf:"max_interval" yaml:"max_interval,omitempty"`
	Jitter      float64       `koanf:"jitter" yaml:"jitter,omitempty"`
}

type BackoffSpec struct {
	Write     BackoffPolicy `koanf:"write" yaml:"write"`
	Reconnect BackoffPolicy `koanf:"reconnect" yaml:"reconnect"`
}

type TelemetrySpec struct {
	MetricsPort int    `koanf:"metrics_port" yaml:"metrics_port"`
	ControlPort int    `koanf:"control_port" yaml:"control_port"`
	LogLevel    string `koanf:"log_level" yaml:"log_level"`
	LogJSON     bool   `koanf:"log_json" yaml:"log_json"`
}

// File is the collector.yml document.
type File struct {
	SchemaVersion string `koanf:"schema_version" yaml:"schema_version"`

	Queue     QueueSpec     `koanf:"queue" yaml:"queue"`
	Sink      SinkSpec      `koanf:"sink" yaml:"sink"`
	Batch     BatchSpec     `koanf:"batch" yaml:"batch"`
	Backoff   BackoffSpec   `koanf:"backoff" yaml:"backoff"`
	Telemetry TelemetrySpec `koanf:"telemetry" yaml:"telemetry"`
}
