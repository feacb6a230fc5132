package configtypes

import (
	"github.com/centrifugal/gocomet/internal/retry"
)

type Log struct {
	// Level is a log level: trace, debug, info, warn, error, fatal or none.
	Level string `mapstructure:"level" json:"level" toml:"level" yaml:"level"`
	// File is an optional path to a log file. If not set logs go to STDOUT.
	File string `mapstructure:"file" json:"file" toml:"file" yaml:"file"`
}

type Retry struct {
	// Delay before the first reconnect attempt.
	Delay Duration `mapstructure:"delay" json:"delay" toml:"delay" yaml:"delay"`
	// MaxDelay caps exponential growth of delay. Zero means no cap.
	MaxDelay Duration `mapstructure:"max_delay" json:"max_delay" toml:"max_delay" yaml:"max_delay"`
	// Multiplier of delay after every failed attempt. Values <= 1 keep delay constant.
	Multiplier float64 `mapstructure:"multiplier" json:"multiplier" toml:"multiplier" yaml:"multiplier"`
	// Jitter is a randomization factor in range [0, 1).
	Jitter float64 `mapstructure:"jitter" json:"jitter" toml:"jitter" yaml:"jitter"`
	// MaxAttempts limits number of consecutive attempts. Zero means unlimited.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" toml:"max_attempts" yaml:"max_attempts"`
}

// Policy converts Retry to a retry.Policy.
func (r Retry) Policy() retry.Policy {
	return retry.Policy{
		Delay:       r.Delay.ToDuration(),
		MaxDelay:    r.MaxDelay.ToDuration(),
		Multiplier:  r.Multiplier,
		Jitter:      r.Jitter,
		MaxAttempts: r.MaxAttempts,
	}
}

// Client configures connection to a gocomet server.
type Client struct {
	// Host is server host[:port].
	Host string `mapstructure:"host" json:"host" toml:"host" yaml:"host"`
	// UseSSL switches to wss and https.
	UseSSL bool `mapstructure:"use_ssl" json:"use_ssl" toml:"use_ssl" yaml:"use_ssl"`
	// Channels to subscribe to.
	Channels []string `mapstructure:"channels" json:"channels" toml:"channels" yaml:"channels"`
	// DisableReconnect turns off automatic reconnects.
	DisableReconnect bool `mapstructure:"disable_reconnect" json:"disable_reconnect" toml:"disable_reconnect" yaml:"disable_reconnect"`
	// DisableCrossDomain marks poll requests as same-origin AJAX calls.
	DisableCrossDomain bool `mapstructure:"disable_cross_domain" json:"disable_cross_domain" toml:"disable_cross_domain" yaml:"disable_cross_domain"`
	// ForceLongPoll makes client use polling instead of websocket.
	ForceLongPoll bool `mapstructure:"force_long_poll" json:"force_long_poll" toml:"force_long_poll" yaml:"force_long_poll"`
	// Debug enables debug logging of client internals.
	Debug bool `mapstructure:"debug" json:"debug" toml:"debug" yaml:"debug"`

	Retry Retry `mapstructure:"retry" json:"retry" toml:"retry" yaml:"retry"`

	KeepAliveInterval Duration `mapstructure:"keep_alive_interval" json:"keep_alive_interval" toml:"keep_alive_interval" yaml:"keep_alive_interval"`
	SendRetryDelay    Duration `mapstructure:"send_retry_delay" json:"send_retry_delay" toml:"send_retry_delay" yaml:"send_retry_delay"`
	WriteTimeout      Duration `mapstructure:"write_timeout" json:"write_timeout" toml:"write_timeout" yaml:"write_timeout"`
	PollTimeout       Duration `mapstructure:"poll_timeout" json:"poll_timeout" toml:"poll_timeout" yaml:"poll_timeout"`
	PollInterval      Duration `mapstructure:"poll_interval" json:"poll_interval" toml:"poll_interval" yaml:"poll_interval"`
	PollErrorDelay    Duration `mapstructure:"poll_error_delay" json:"poll_error_delay" toml:"poll_error_delay" yaml:"poll_error_delay"`
	// PollRateLimit is a max number of data requests per second. Zero means no limit.
	PollRateLimit float64 `mapstructure:"poll_rate_limit" json:"poll_rate_limit" toml:"poll_rate_limit" yaml:"poll_rate_limit"`
	PollBurst     int     `mapstructure:"poll_burst" json:"poll_burst" toml:"poll_burst" yaml:"poll_burst"`
}

// Publisher configures feed commands sent by CLI.
type Publisher struct {
	Timeout Duration `mapstructure:"timeout" json:"timeout" toml:"timeout" yaml:"timeout"`
	// Retry of failed feed commands. MaxAttempts 0 disables retries.
	Retry Retry `mapstructure:"retry" json:"retry" toml:"retry" yaml:"retry"`
}

type HTTPServer struct {
	Address string `mapstructure:"address" json:"address" toml:"address" yaml:"address"`
	Port    int    `mapstructure:"port" json:"port" toml:"port" yaml:"port"`
}

type Prometheus struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	HandlerPrefix string `mapstructure:"handler_prefix" json:"handler_prefix" toml:"handler_prefix" yaml:"handler_prefix"`
	Namespace     string `mapstructure:"namespace" json:"namespace" toml:"namespace" yaml:"namespace"`
}

type Health struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	HandlerPrefix string `mapstructure:"handler_prefix" json:"handler_prefix" toml:"handler_prefix" yaml:"handler_prefix"`
}

type OpenTelemetry struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
}

type Graphite struct {
	Enabled  bool     `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	Host     string   `mapstructure:"host" json:"host" toml:"host" yaml:"host"`
	Port     int      `mapstructure:"port" json:"port" toml:"port" yaml:"port"`
	Prefix   string   `mapstructure:"prefix" json:"prefix" toml:"prefix" yaml:"prefix"`
	Interval Duration `mapstructure:"interval" json:"interval" toml:"interval" yaml:"interval"`
	Tags     bool     `mapstructure:"tags" json:"tags" toml:"tags" yaml:"tags"`
}

type Shutdown struct {
	Timeout Duration `mapstructure:"timeout" json:"timeout" toml:"timeout" yaml:"timeout"`
}

// Sinks configures where received updates are forwarded to.
type Sinks struct {
	// QueueSize is a size of forwarding queue. Updates are dropped when queue is full.
	QueueSize int `mapstructure:"queue_size" json:"queue_size" toml:"queue_size" yaml:"queue_size"`
	// PublishTimeout bounds a single sink publish call.
	PublishTimeout Duration `mapstructure:"publish_timeout" json:"publish_timeout" toml:"publish_timeout" yaml:"publish_timeout"`

	Writer WriterSink `mapstructure:"writer" json:"writer" toml:"writer" yaml:"writer"`
	NATS   NATSSink   `mapstructure:"nats" json:"nats" toml:"nats" yaml:"nats"`
	Redis  RedisSink  `mapstructure:"redis" json:"redis" toml:"redis" yaml:"redis"`
	Kafka  KafkaSink  `mapstructure:"kafka" json:"kafka" toml:"kafka" yaml:"kafka"`
}

// WriterSink prints updates to STDOUT as JSON lines.
type WriterSink struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
}

type NATSSink struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" json:"url" toml:"url" yaml:"url"`
	// SubjectPrefix is prepended to channel name to build NATS subject.
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" toml:"subject_prefix" yaml:"subject_prefix"`
	Username      string `mapstructure:"username" json:"username" toml:"username" yaml:"username"`
	Password      string `mapstructure:"password" json:"password" toml:"password" yaml:"password"`
	Token         string `mapstructure:"token" json:"token" toml:"token" yaml:"token"`
}

type RedisSink struct {
	Enabled  bool     `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	Address  []string `mapstructure:"address" json:"address" toml:"address" yaml:"address"`
	Username string   `mapstructure:"username" json:"username" toml:"username" yaml:"username"`
	Password string   `mapstructure:"password" json:"password" toml:"password" yaml:"password"`
	DB       int      `mapstructure:"db" json:"db" toml:"db" yaml:"db"`
	// StreamPrefix is prepended to channel name to build stream key.
	StreamPrefix string `mapstructure:"stream_prefix" json:"stream_prefix" toml:"stream_prefix" yaml:"stream_prefix"`
	// StreamMaxLength sets approximate MAXLEN of streams. Zero means no trimming.
	StreamMaxLength int64 `mapstructure:"stream_max_length" json:"stream_max_length" toml:"stream_max_length" yaml:"stream_max_length"`
}

type KafkaSink struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" json:"brokers" toml:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" json:"topic" toml:"topic" yaml:"topic"`

	// SASLMechanism when not empty enables SASL auth. Only "plain" is supported.
	SASLMechanism string `mapstructure:"sasl_mechanism" json:"sasl_mechanism" toml:"sasl_mechanism" yaml:"sasl_mechanism"`
	SASLUser      string `mapstructure:"sasl_user" json:"sasl_user" toml:"sasl_user" yaml:"sasl_user"`
	SASLPassword  string `mapstructure:"sasl_password" json:"sasl_password" toml:"sasl_password" yaml:"sasl_password"`
}
