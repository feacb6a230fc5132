package gocomet

import (
	"errors"

	"github.com/centrifugal/gocomet/internal/protocol"
	"github.com/centrifugal/gocomet/internal/transport"
)

// ErrClientClosed returned by operations on a closed Client.
var ErrClientClosed = errors.New("client closed")

// Errors passed to OnClosed and logged on failed commands. They may be
// wrapped, use errors.Is to check.
var (
	// ErrNotConnected means command was attempted without an open connection.
	ErrNotConnected = transport.ErrNotConnected
	// ErrConnectionClosed means connection was closed.
	ErrConnectionClosed = transport.ErrClosed
	// ErrMalformed means server sent a response client could not decode.
	ErrMalformed = protocol.ErrMalformed
)

// StatusError is returned when server responds with unexpected HTTP status.
type StatusError = transport.StatusError
