package gocomet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/centrifugal/gocomet/internal/protocol"
	"github.com/centrifugal/gocomet/internal/transport"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnexpectedPong returned by Ping when server answers something other
// than "pong".
var ErrUnexpectedPong = errors.New("unexpected ping response")

// PublisherConfig configures Publisher.
type PublisherConfig struct {
	// Host is server host[:port]. Defaults to DefaultHost.
	Host string
	// UseSSL switches to https.
	UseSSL bool
	// Timeout of a single request. Defaults to DefaultPollTimeout.
	Timeout time.Duration
	// Retry of failed requests. By default a request is not retried.
	Retry *RetryPolicy
	// Header added to every request.
	Header http.Header
	// HTTPClient used for requests.
	HTTPClient *http.Client
	// Logger used by publisher. Global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Publisher feeds data into server channels.
// Publisher is safe for concurrent use.
type Publisher struct {
	exchanger *transport.Exchanger
	retry     *RetryPolicy
	logger    zerolog.Logger
}

// NewPublisher creates Publisher.
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Timeout < 0 {
		return nil, errors.New("timeout must not be negative")
	}
	if config.Retry != nil {
		if err := config.Retry.Validate(); err != nil {
			return nil, fmt.Errorf("invalid retry policy: %w", err)
		}
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Publisher{
		exchanger: transport.NewExchanger(transport.ExchangerConfig{
			Endpoint: transport.Endpoint{Host: config.Host, Secure: config.UseSSL},
			Client:   config.HTTPClient,
			Header:   config.Header,
			Timeout:  config.Timeout,
		}),
		retry:  config.Retry,
		logger: logger.With().Str("component", "publisher").Logger(),
	}, nil
}

// Create publishes data to channel with create command.
func (p *Publisher) Create(ctx context.Context, channel string, data string) error {
	return p.feed(ctx, protocol.CommandCreate, channel, data)
}

// Update publishes data to channel with update command.
func (p *Publisher) Update(ctx context.Context, channel string, data string) error {
	return p.feed(ctx, protocol.CommandUpdate, channel, data)
}

// Clear publishes clear command to channel.
func (p *Publisher) Clear(ctx context.Context, channel string) error {
	return p.feed(ctx, protocol.CommandClear, channel, "")
}

func (p *Publisher) feed(ctx context.Context, command string, channel string, data string) error {
	if channel == "" {
		return errors.New("channel required")
	}
	params := transport.Params{protocol.ParamChannel: channel}
	if command != protocol.CommandClear {
		params[protocol.ParamData] = data
	}
	_, err := p.exchange(ctx, command, params)
	return err
}

// Ping checks server is alive.
func (p *Publisher) Ping(ctx context.Context) error {
	data, err := p.exchange(ctx, protocol.CommandPing, nil)
	if err != nil {
		return err
	}
	if strings.TrimSpace(strings.Trim(string(data), `"`)) != "pong" {
		return fmt.Errorf("%w: %q", ErrUnexpectedPong, data)
	}
	return nil
}

func (p *Publisher) exchange(ctx context.Context, command string, params transport.Params) ([]byte, error) {
	if p.retry == nil {
		return p.exchanger.Exchange(ctx, command, params)
	}
	var data []byte
	operation := func() error {
		var err error
		data, err = p.exchanger.Exchange(ctx, command, params)
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) && statusErr.Code < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		p.logger.Warn().Err(err).Str("command", command).Str("delay", delay.String()).Msg("request failed, retrying")
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(p.retry.NewBackOff(), ctx), notify)
	return data, err
}
