// Package transport contains the two interchangeable ways of talking to a
// gocomet server: a persistent websocket and a polling HTTP exchange.
//
// Transports are not safe for concurrent use. All methods must be called on
// the event loop the transport was created with, and all callbacks and
// events are invoked on that loop as well.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/centrifugal/gocomet/internal/protocol"
)

// Transport names reported by Name.
const (
	NameWebSocket = "WebSocket"
	NameLongPoll  = "LongPoll"
)

var (
	// ErrNotConnected returned to failure callbacks when command can't be
	// sent because there is no open connection.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed means connection was closed.
	ErrClosed = errors.New("connection closed")
)

// StatusError is returned when server responds with unexpected HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Params are command parameters.
type Params map[string]string

// SuccessFunc receives raw reply data.
type SuccessFunc func(data []byte)

// FailureFunc receives the reason of a failed command.
type FailureFunc func(err error)

// Transport sends commands to server.
type Transport interface {
	// Name of transport.
	Name() string
	// Connect starts establishing a connection. It returns false when an
	// attempt is already in flight or transport was closed.
	Connect() bool
	// Send sends command. Exactly one of callbacks is called at most once,
	// though a reply may never arrive if connection is lost.
	Send(command string, params Params, onSuccess SuccessFunc, onFailure FailureFunc)
	// Close releases transport resources. Transport can't be used after Close.
	Close() error
}

// Events are transport notifications. Any of them may be nil.
type Events struct {
	// OnOpen called when connection is established.
	OnOpen func()
	// OnClose called when connection attempt failed or connection was lost.
	OnClose func(err error)
	// OnPush called with updates pushed by server.
	OnPush func(updates []protocol.Update)
	// OnUnavailable called when a command was attempted without connection.
	OnUnavailable func(err error)
}

func (e Events) open() {
	if e.OnOpen != nil {
		e.OnOpen()
	}
}

func (e Events) close(err error) {
	if e.OnClose != nil {
		e.OnClose(err)
	}
}

func (e Events) push(updates []protocol.Update) {
	if e.OnPush != nil {
		e.OnPush(updates)
	}
}

func (e Events) unavailable(err error) {
	if e.OnUnavailable != nil {
		e.OnUnavailable(err)
	}
}

func fail(onFailure FailureFunc, err error) {
	if onFailure != nil {
		onFailure(err)
	}
}

// Endpoint is a gocomet server address.
type Endpoint struct {
	// Host is host[:port] of server.
	Host string
	// Secure turns on wss and https schemes.
	Secure bool
}

// WebSocketURL returns websocket endpoint URL.
func (e Endpoint) WebSocketURL() string {
	scheme := "ws"
	if e.Secure {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: e.Host, Path: "/ws"}).String()
}

// PollURL returns URL of a polling exchange for command. Parameters are
// encoded as query together with anti-cache timestamp.
func (e Endpoint) PollURL(command string, params Params, now time.Time) string {
	scheme := "http"
	if e.Secure {
		scheme = "https"
	}
	query := make(url.Values, len(params)+1)
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set(protocol.ParamTimestamp, strconv.FormatInt(now.UnixMilli(), 10))
	u := url.URL{Scheme: scheme, Host: e.Host, Path: "/" + command, RawQuery: query.Encode()}
	return u.String()
}

// Header used for same-origin poll requests.
const (
	headerRequestedWith = "X-Requested-With"
	xmlHTTPRequest      = "XMLHttpRequest"
)

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
