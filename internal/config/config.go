package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `json:"max_request_bytes" yaml:"max_request_bytes"`
	// AllowOrigins enables CORS for browser-based operator tools; empty disables it.
	AllowOrigins []string `json:"allow_origins,omitempty" yaml:"allow_origins,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	// BlockTimeout bounds each blocking queue read.
	BlockTimeout Duration `json:"block_timeout,omitempty" yaml:"block_timeout,omitempty"`
}

type DatabaseConfig struct {
	// DSN selects the dialect: postgres URL or libpq string, mysql://..., sqlite://...
	DSN string `json:"dsn" yaml:"dsn"`
}

type JanitorConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	OrphanTTL Duration `json:"orphan_ttl" yaml:"orphan_ttl"`
	Interval  Duration `json:"interval" yaml:"interval"`
}

type OperationConfig struct {
	ExpectedNodeCount int      `json:"expected_node_count" yaml:"expected_node_count"`
	PollingTimeout    Duration `json:"polling_timeout" yaml:"polling_timeout"`
	InterPollDelay    Duration `json:"inter_poll_delay" yaml:"inter_poll_delay"`
	RequestQueues     []string `json:"request_queues,omitempty" yaml:"request_queues,omitempty"`
	ResponseQueues    []string `json:"response_queues,omitempty" yaml:"response_queues,omitempty"`
	// Async operations are submitted and later fetched instead of awaited.
	Async bool `json:"async,omitempty" yaml:"async,omitempty"`
}

type Config struct {
	Env  string     `json:"env" yaml:"env"`
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Transport is "memory" or "redis".
	Transport string `json:"transport" yaml:"transport"`
	// Repository is "memory" or "durable".
	Repository string `json:"repository" yaml:"repository"`
	// Notifier is "local", "redis" or "postgres".
	Notifier    string `json:"notifier" yaml:"notifier"`
	NotifyTopic string `json:"notify_topic" yaml:"notify_topic"`
	// Codec names the envelope codec: json, msgpack, optionally suffixed "+zstd".
	Codec string `json:"codec" yaml:"codec"`

	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Janitor  JanitorConfig  `json:"janitor" yaml:"janitor"`

	// Operations is keyed by operation type, e.g. "choice_codes_decryption".
	Operations map[string]OperationConfig `json:"operations" yaml:"operations"`
}
