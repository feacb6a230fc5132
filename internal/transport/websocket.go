package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/centrifugal/gocomet/internal/correlator"
	"github.com/centrifugal/gocomet/internal/eventloop"
	"github.com/centrifugal/gocomet/internal/metrics"
	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Socket defaults.
const (
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultSendRetryDelay    = 500 * time.Millisecond
	DefaultWriteTimeout      = time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
)

// SocketConfig configures Socket.
type SocketConfig struct {
	Endpoint Endpoint
	// Dialer used to open connections. Default dialer is used if nil.
	Dialer *websocket.Dialer
	// Header sent with handshake request.
	Header http.Header
	// KeepAliveInterval between keepAlive commands.
	KeepAliveInterval time.Duration
	// SendRetryDelay is a delay before retrying a send issued during handshake.
	SendRetryDelay time.Duration
	// WriteTimeout limits a single frame write.
	WriteTimeout time.Duration
	Logger       zerolog.Logger
	Metrics      *metrics.Registry
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		}
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
	return c
}

type socketState int

const (
	socketClosed socketState = iota
	socketOpening
	socketOpen
)

// Socket is a persistent websocket transport. Replies are matched to
// requests by request id, frames without a matching id may carry pushed
// updates.
type Socket struct {
	loop   *eventloop.Loop
	config SocketConfig
	events Events
	logger zerolog.Logger

	state  socketState
	closed bool
	// generation is incremented every time current connection is replaced
	// or torn down, events of older generations are ignored.
	generation uint64
	conn       *websocket.Conn
	dialCancel context.CancelFunc
	correlator *correlator.Correlator
	keepAlive  *eventloop.Timer
}

var _ Transport = (*Socket)(nil)

// NewSocket creates Socket. It does not connect until Connect is called.
func NewSocket(loop *eventloop.Loop, config SocketConfig, events Events) *Socket {
	config = config.withDefaults()
	return &Socket{
		loop:       loop,
		config:     config,
		events:     events,
		logger:     config.Logger.With().Str("transport", NameWebSocket).Logger(),
		correlator: correlator.New(),
	}
}

// Name of transport.
func (s *Socket) Name() string {
	return NameWebSocket
}

// Pending returns number of requests waiting for reply.
func (s *Socket) Pending() int {
	return s.correlator.Len()
}

// Connect dials server unless a handshake is already in flight. Previous
// connection, if any, is discarded together with its pending requests.
func (s *Socket) Connect() bool {
	if s.closed || s.state == socketOpening {
		return false
	}
	s.dropConn()
	s.state = socketOpening

	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel
	wsURL := s.config.Endpoint.WebSocketURL()
	dialer := s.config.Dialer
	header := cloneHeader(s.config.Header)
	s.logger.Debug().Str("url", wsURL).Msg("connecting")

	go func() {
		conn, resp, err := dialer.DialContext(ctx, wsURL, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil && resp != nil {
			err = fmt.Errorf("%w (%w)", err, &StatusError{Code: resp.StatusCode})
		}
		if !s.loop.Post(func() { s.onDial(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
	return true
}

func (s *Socket) onDial(gen uint64, conn *websocket.Conn, err error) {
	if gen != s.generation || s.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.dialCancel = nil
	if err != nil {
		s.state = socketClosed
		s.logger.Debug().Err(err).Msg("dial failed")
		s.events.close(fmt.Errorf("dial: %w", err))
		return
	}
	s.conn = conn
	s.state = socketOpen
	s.logger.Debug().Msg("connected")
	s.scheduleKeepAlive(gen)
	go s.readLoop(gen, conn)
	s.events.open()
}

func (s *Socket) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.loop.Post(func() { s.onConnClose(gen, err) })
			return
		}
		if !s.loop.Post(func() { s.onMessage(gen, data) }) {
			return
		}
	}
}

func (s *Socket) onConnClose(gen uint64, err error) {
	if gen != s.generation || s.closed {
		return
	}
	s.logger.Debug().Err(err).Msg("connection closed")
	s.dropConn()
	s.events.close(fmt.Errorf("%w: %w", ErrClosed, err))
}

func (s *Socket) onMessage(gen uint64, data []byte) {
	if gen != s.generation || s.closed {
		return
	}
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		s.logger.Debug().Err(err).Str("data", string(data)).Msg("ignoring malformed frame")
		return
	}
	if frame.HasRequestID {
		if h, ok := s.correlator.Take(frame.RequestID); ok {
			s.config.Metrics.AddPending(NameWebSocket, -1)
			if h.OnSuccess != nil {
				h.OnSuccess(frame.Data)
			}
			return
		}
	}
	if frame.IsPush() {
		s.events.push(frame.Commands)
		return
	}
	s.logger.Debug().Str("data", string(data)).Msg("ignoring unmatched frame")
}

// Send sends command over connection. During handshake the call is retried
// after SendRetryDelay, calls deferred for a connection which was replaced
// in the meantime are dropped.
func (s *Socket) Send(command string, params Params, onSuccess SuccessFunc, onFailure FailureFunc) {
	if s.closed {
		fail(onFailure, ErrClosed)
		return
	}
	switch s.state {
	case socketOpening:
		gen := s.generation
		s.loop.AfterFunc(s.config.SendRetryDelay, func() {
			if gen != s.generation || s.closed {
				s.logger.Debug().Str("command", command).Msg("dropping deferred command of replaced connection")
				return
			}
			s.Send(command, params, onSuccess, onFailure)
		})
		return
	case socketClosed:
		s.config.Metrics.IncRequestError(NameWebSocket, command)
		fail(onFailure, ErrNotConnected)
		s.events.unavailable(ErrNotConnected)
		return
	}

	var id uint64
	recorded := onSuccess != nil || onFailure != nil
	if recorded {
		id = s.correlator.Next(correlator.Handler{OnSuccess: onSuccess, OnFailure: onFailure})
		s.config.Metrics.AddPending(NameWebSocket, 1)
	} else {
		id = s.correlator.NextID()
	}
	data, err := protocol.EncodeRequest(id, command, params)
	if err == nil {
		s.config.Metrics.IncRequest(NameWebSocket, command)
		err = s.write(data)
		if err != nil {
			// Broken connection, read loop will report close.
			_ = s.conn.Close()
		}
	}
	if err != nil {
		if _, ok := s.correlator.Take(id); ok {
			s.config.Metrics.AddPending(NameWebSocket, -1)
		}
		s.config.Metrics.IncRequestError(NameWebSocket, command)
		s.logger.Debug().Err(err).Str("command", command).Msg("send failed")
		fail(onFailure, err)
	}
}

func (s *Socket) write(data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if s.config.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	return nil
}

func (s *Socket) scheduleKeepAlive(gen uint64) {
	s.keepAlive = s.loop.AfterFunc(s.config.KeepAliveInterval, func() {
		if gen != s.generation || s.state != socketOpen {
			return
		}
		s.Send(protocol.CommandKeepAlive, nil, nil, nil)
		if gen == s.generation && s.state == socketOpen {
			s.scheduleKeepAlive(gen)
		}
	})
}

// dropConn releases current connection and discards pending requests.
func (s *Socket) dropConn() {
	s.generation++
	s.state = socketClosed
	s.keepAlive.Stop()
	s.keepAlive = nil
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if n := s.correlator.Reset(); n > 0 {
		s.config.Metrics.AddPending(NameWebSocket, -n)
		s.logger.Debug().Int("num_discarded", n).Msg("discarded pending requests")
	}
}

// Close closes connection. No events are emitted after Close.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.conn != nil && s.state == socketOpen {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	}
	s.dropConn()
	return err
}
