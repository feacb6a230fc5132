package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/centrifugal/gocomet/internal/eventloop"
	"github.com/centrifugal/gocomet/internal/metrics"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultPollTimeout bounds a single polling exchange.
const DefaultPollTimeout = 60 * time.Second

const maxResponseBodySize = 16 << 20

// ExchangerConfig configures Exchanger.
type ExchangerConfig struct {
	Endpoint Endpoint
	// Client used for requests. A client instrumented with OpenTelemetry
	// is used if nil.
	Client *http.Client
	// Header added to every request.
	Header http.Header
	// Timeout of a single exchange.
	Timeout time.Duration
	// SameOrigin marks requests with X-Requested-With header the way
	// browsers do for non cross-domain AJAX calls.
	SameOrigin bool
}

// Exchanger performs a single request/response exchange with server.
// Exchanger is safe for concurrent use.
type Exchanger struct {
	config ExchangerConfig
	now    func() time.Time
}

// NewExchanger creates Exchanger.
func NewExchanger(config ExchangerConfig) *Exchanger {
	if config.Client == nil {
		config.Client = DefaultHTTPClient()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultPollTimeout
	}
	return &Exchanger{config: config, now: time.Now}
}

// DefaultHTTPClient returns HTTP client with OpenTelemetry instrumented
// transport.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Exchange sends command with params and returns raw response body.
func (e *Exchanger) Exchange(ctx context.Context, command string, params Params) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	reqURL := e.config.Endpoint.PollURL(command, params, e.now())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header = cloneHeader(e.config.Header)
	if e.config.SameOrigin {
		req.Header.Set(headerRequestedWith, xmlHTTPRequest)
	}
	resp, err := e.config.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	return body, nil
}

// PollConfig configures Poll.
type PollConfig struct {
	ExchangerConfig
	Logger  zerolog.Logger
	Metrics *metrics.Registry
}

// Poll is a stateless request/response transport. Every command is an
// independent HTTP exchange, server can't push data over it.
type Poll struct {
	loop      *eventloop.Loop
	exchanger *Exchanger
	logger    zerolog.Logger
	metrics   *metrics.Registry

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

var _ Transport = (*Poll)(nil)

// NewPoll creates Poll transport.
func NewPoll(loop *eventloop.Loop, config PollConfig) *Poll {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poll{
		loop:      loop,
		exchanger: NewExchanger(config.ExchangerConfig),
		logger:    config.Logger.With().Str("transport", NameLongPoll).Logger(),
		metrics:   config.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Name of transport.
func (p *Poll) Name() string {
	return NameLongPoll
}

// Connect has nothing to establish, it only reports whether transport is
// still usable.
func (p *Poll) Connect() bool {
	return !p.closed
}

// Send performs exchange in background and calls back on loop.
func (p *Poll) Send(command string, params Params, onSuccess SuccessFunc, onFailure FailureFunc) {
	if p.closed {
		fail(onFailure, ErrClosed)
		return
	}
	p.metrics.IncRequest(NameLongPoll, command)
	p.logger.Debug().Str("command", command).Interface("params", params).Msg("sending request")
	go func() {
		data, err := p.exchanger.Exchange(p.ctx, command, params)
		p.loop.Post(func() {
			if p.closed {
				return
			}
			if err != nil {
				p.metrics.IncRequestError(NameLongPoll, command)
				p.logger.Debug().Err(err).Str("command", command).Msg("request failed")
				fail(onFailure, err)
				return
			}
			p.logger.Debug().Str("command", command).Str("data", string(data)).Msg("response received")
			if onSuccess != nil {
				onSuccess(data)
			}
		})
	}()
}

// Close cancels outstanding exchanges.
func (p *Poll) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	return nil
}
