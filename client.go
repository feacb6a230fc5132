package gocomet

import (
	"maps"
	"slices"
	"sync"

	"github.com/centrifugal/gocomet/internal/eventloop"
	"github.com/centrifugal/gocomet/internal/metrics"
	"github.com/centrifugal/gocomet/internal/retry"
	"github.com/centrifugal/gocomet/internal/transport"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Connection types returned by Client.ConnectionType.
const (
	ConnectionTypeWebSocket = transport.NameWebSocket
	ConnectionTypeLongPoll  = transport.NameLongPoll
)

// Client is a gocomet subscriber. Client methods are safe for concurrent use.
type Client struct {
	config    Config
	id        string
	logger    zerolog.Logger
	loop      *eventloop.Loop
	transport transport.Transport
	metrics   *metrics.Registry
	limiter   *rate.Limiter
	poll      bool

	// Fields below are owned by loop goroutine.
	state          State
	subscriberID   string
	channels       []string
	versions       map[string]int64
	backoff        retry.BackOff
	reconnectTimer *eventloop.Timer
	pollTimer      *eventloop.Timer
	// attempt changes whenever subscriber identity obtained earlier becomes
	// invalid so late results of older requests can be recognized.
	attempt uint64
	closed  bool

	mu       sync.RWMutex
	snapshot snapshot

	closeOnce sync.Once
}

// snapshot is a copy of loop-owned state available to accessors.
type snapshot struct {
	closed       bool
	state        State
	subscriberID string
	channels     []string
	versions     map[string]int64
}

// New creates Client and starts connecting in background.
func New(config Config) (*Client, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:   config,
		id:       uuid.NewString(),
		loop:     eventloop.New(),
		channels: config.Channels,
		versions: map[string]int64{},
		backoff:  config.Retry.NewBackOff(),
		poll:     config.ForceLongPoll,
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	if config.Debug && logger.GetLevel() > zerolog.DebugLevel {
		logger = logger.Level(zerolog.DebugLevel)
	}

	if config.MetricsRegisterer != nil {
		m, err := metrics.New(metrics.Config{
			Namespace:  config.MetricsNamespace,
			Registerer: config.MetricsRegisterer,
		})
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}

	if config.PollRateLimit > 0 {
		c.limiter = rate.NewLimiter(config.PollRateLimit, config.PollBurst)
	}

	if c.poll {
		c.transport = transport.NewPoll(c.loop, transport.PollConfig{
			ExchangerConfig: transport.ExchangerConfig{
				Endpoint:   config.endpoint(),
				Client:     config.HTTPClient,
				Header:     config.Header,
				Timeout:    config.PollTimeout,
				SameOrigin: config.DisableCrossDomain,
			},
			Logger:  logger,
			Metrics: c.metrics,
		})
	} else {
		c.transport = transport.NewSocket(c.loop, transport.SocketConfig{
			Endpoint:          config.endpoint(),
			Dialer:            config.Dialer,
			Header:            config.Header,
			KeepAliveInterval: config.KeepAliveInterval,
			SendRetryDelay:    config.SendRetryDelay,
			WriteTimeout:      config.WriteTimeout,
			Logger:            logger,
			Metrics:           c.metrics,
		}, transport.Events{
			OnOpen:        c.onOpen,
			OnClose:       c.onClose,
			OnPush:        c.dispatch,
			OnUnavailable: c.onUnavailable,
		})
	}
	c.logger = logger.With().
		Str("client", c.id).
		Str("transport", c.transport.Name()).
		Logger()
	c.updateSnapshot()

	go c.loop.Run()
	c.loop.Post(c.connect)
	return c, nil
}

// ConnectionType returns name of transport in use: "WebSocket" or "LongPoll".
func (c *Client) ConnectionType() string {
	return c.transport.Name()
}

// State returns current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.state
}

// SubscriberID returns identity assigned by server, empty when not subscribed.
func (c *Client) SubscriberID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.subscriberID
}

// Channels returns channels subscribed on every (re)connect.
func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.snapshot.channels)
}

// ChannelVersions returns last seen version of every channel which got
// updates since the last successful subscribe.
func (c *Client) ChannelVersions() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.snapshot.versions)
}

// AddChannels subscribes to more channels. Channels are added to the set
// replayed on reconnect once server confirms the request.
func (c *Client) AddChannels(channels ...string) error {
	channels = slices.Clone(channels)
	return c.post(func() { c.addChannels(channels) })
}

// RemoveChannels unsubscribes from channels. Note that channels stay in the
// set replayed on reconnect.
func (c *Client) RemoveChannels(channels ...string) error {
	channels = slices.Clone(channels)
	return c.post(func() { c.removeChannels(channels) })
}

// Connect restarts a Client which gave up reconnecting or had reconnects
// disabled. It does nothing while Client is connected or a connection
// attempt is pending.
func (c *Client) Connect() error {
	return c.post(func() {
		if c.state != StateDisconnected || c.reconnectTimer != nil {
			return
		}
		c.backoff.Reset()
		c.connect()
	})
}

// Close stops Client. It waits until the loop has released connection, so
// it must not be called from Client callbacks.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		if !c.loop.Post(func() {
			defer close(done)
			err = c.shutdown()
		}) {
			close(done)
		}
		<-done
		c.loop.Stop()
		c.mu.Lock()
		c.snapshot.closed = true
		c.mu.Unlock()
	})
	return err
}

func (c *Client) shutdown() error {
	c.closed = true
	c.reconnectTimer.Stop()
	c.reconnectTimer = nil
	c.pollTimer.Stop()
	c.pollTimer = nil
	c.subscriberID = ""
	c.setState(StateDisconnected)
	c.logger.Debug().Msg("client closed")
	return c.transport.Close()
}

func (c *Client) post(fn func()) error {
	c.mu.RLock()
	closed := c.snapshot.closed
	c.mu.RUnlock()
	if closed {
		return ErrClientClosed
	}
	if !c.loop.Post(func() {
		if c.closed {
			return
		}
		fn()
	}) {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) setState(state State) {
	if c.state != state {
		c.logger.Debug().Str("from", c.state.String()).Str("to", state.String()).Msg("state changed")
	}
	c.state = state
	c.updateSnapshot()
}

func (c *Client) updateSnapshot() {
	c.mu.Lock()
	c.snapshot.state = c.state
	c.snapshot.subscriberID = c.subscriberID
	c.snapshot.channels = slices.Clone(c.channels)
	c.snapshot.versions = maps.Clone(c.versions)
	c.mu.Unlock()
}
