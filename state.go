package gocomet

// State of Client connection.
type State int

const (
	// StateDisconnected means there is no connection and none is scheduled.
	StateDisconnected State = iota
	// StateConnecting means connection is being established or a reconnect
	// is scheduled.
	StateConnecting
	// StateConnected means connection is established but subscribe has not
	// succeeded yet.
	StateConnected
	// StateSubscribed means client has a subscriber identity and receives data.
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// MarshalText encodes state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
