package gocomet

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/centrifugal/gocomet/internal/protocol"
	"github.com/centrifugal/gocomet/internal/retry"
	"github.com/centrifugal/gocomet/internal/transport"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Update is a single channel data record delivered by the server.
type Update = protocol.Update

// RetryPolicy describes reconnect delays. The zero value reconnects forever
// every 500ms.
type RetryPolicy = retry.Policy

// DefaultHost is used when Config.Host is empty.
const DefaultHost = "localhost:8080"

// Defaults of Config timings.
const (
	DefaultKeepAliveInterval = transport.DefaultKeepAliveInterval
	DefaultSendRetryDelay    = transport.DefaultSendRetryDelay
	DefaultWriteTimeout      = transport.DefaultWriteTimeout
	DefaultPollTimeout       = transport.DefaultPollTimeout
	DefaultPollInterval      = time.Millisecond
	DefaultPollErrorDelay    = time.Second
)

// Config of Client. All fields are optional.
type Config struct {
	// Host is server host[:port]. Defaults to DefaultHost.
	Host string
	// UseSSL switches to wss and https.
	UseSSL bool
	// Channels to subscribe to.
	Channels []string

	// OnData called for every update received.
	OnData func(update Update)
	// OnSubscribed called when server assigned subscriber identity.
	OnSubscribed func(subscriberID string)
	// OnClosed called when connection is closed or could not be established.
	OnClosed func(err error)

	// DisableReconnect turns off automatic reconnects after connection loss.
	DisableReconnect bool
	// DisableCrossDomain marks poll requests as same-origin AJAX calls.
	DisableCrossDomain bool
	// ForceLongPoll makes client use polling instead of websocket.
	ForceLongPoll bool
	// Debug turns on debug logging for this client.
	Debug bool

	// Retry configures reconnect delays.
	Retry RetryPolicy
	// KeepAliveInterval between websocket keepAlive commands.
	KeepAliveInterval time.Duration
	// SendRetryDelay before re-trying a websocket command issued during handshake.
	SendRetryDelay time.Duration
	// WriteTimeout of a single websocket frame.
	WriteTimeout time.Duration
	// PollTimeout bounds a single polling exchange.
	PollTimeout time.Duration
	// PollInterval between data requests.
	PollInterval time.Duration
	// PollErrorDelay before next data request after a failed one.
	PollErrorDelay time.Duration
	// PollRateLimit limits the rate of data requests. Zero means no limit.
	PollRateLimit rate.Limit
	// PollBurst is the burst size of PollRateLimit. Defaults to 1.
	PollBurst int

	// Header sent with websocket handshake and poll requests.
	Header http.Header
	// HTTPClient used by poll transport.
	HTTPClient *http.Client
	// Dialer used by websocket transport.
	Dialer *websocket.Dialer
	// Logger used by client. Global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// MetricsRegisterer to register client metrics with. Metrics are off if nil.
	MetricsRegisterer prometheus.Registerer
	// MetricsNamespace of client metrics.
	MetricsNamespace string
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.SendRetryDelay == 0 {
		c.SendRetryDelay = DefaultSendRetryDelay
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollErrorDelay == 0 {
		c.PollErrorDelay = DefaultPollErrorDelay
	}
	if c.PollRateLimit > 0 && c.PollBurst <= 0 {
		c.PollBurst = 1
	}
	c.Channels = append([]string(nil), c.Channels...)
	return c
}

// Validate checks Config values.
func (c Config) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"keep alive interval": c.KeepAliveInterval,
		"send retry delay":    c.SendRetryDelay,
		"write timeout":       c.WriteTimeout,
		"poll timeout":        c.PollTimeout,
		"poll interval":       c.PollInterval,
		"poll error delay":    c.PollErrorDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.PollRateLimit < 0 {
		return errors.New("poll rate limit must not be negative")
	}
	for _, ch := range c.Channels {
		if ch == "" {
			return errors.New("empty channel name")
		}
	}
	return nil
}

func (c Config) endpoint() transport.Endpoint {
	return transport.Endpoint{Host: c.Host, Secure: c.UseSSL}
}
