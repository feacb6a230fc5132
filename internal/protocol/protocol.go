// Package protocol describes the gocomet wire contract shared by the
// websocket and long-poll transports.
package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Commands understood by a gocomet server.
const (
	CommandSubscribe      = "subscribe"
	CommandAddChannels    = "addchannels"
	CommandRemoveChannels = "removechannels"
	CommandData           = "data"
	CommandKeepAlive      = "keepAlive"
	CommandPing           = "ping"
	CommandCreate         = "create"
	CommandUpdate         = "update"
	CommandClear          = "clear"
)

// Request parameter names.
const (
	ParamChannels  = "channels"
	ParamID        = "id"
	ParamChannel   = "channel"
	ParamData      = "data"
	ParamTimestamp = "__ts"
)

// Status is the outcome of a data request.
type Status string

const (
	StatusData              Status = "1"
	StatusNoData            Status = "0"
	StatusUnknownSubscriber Status = "-1"
)

// ChannelSeparator joins channel names into a single request parameter.
const ChannelSeparator = ","

// JoinChannels joins channel names preserving their order.
func JoinChannels(channels []string) string {
	return strings.Join(channels, ChannelSeparator)
}

// Request is a command sent over the websocket transport.
type Request struct {
	RequestID  uint64            `json:"requestId"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters"`
}

// Update is a single channel data record delivered by the server.
type Update struct {
	Command string  `json:"command"`
	Channel string  `json:"channel"`
	Version int64   `json:"version"`
	Data    Payload `json:"data"`
}

// Payload holds update data as raw JSON exactly as received from server.
// Servers usually send data as a JSON string, use String to get its text.
type Payload json.RawMessage

// TextPayload makes Payload holding s as a JSON string.
func TextPayload(s string) Payload {
	data, _ := json.Marshal(s)
	return Payload(data)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return errors.New("protocol.Payload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[:0], data...)
	return nil
}

// MarshalJSON returns raw payload unchanged. Bytes which are not valid JSON
// are encoded as a JSON string.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	if json.Valid(p) {
		return p, nil
	}
	return json.Marshal(string(p))
}

// IsString reports whether payload is a JSON string.
func (p Payload) IsString() bool {
	return len(p) > 0 && p[0] == '"'
}

// String returns text of a JSON string payload, any other payload is
// returned as raw JSON.
func (p Payload) String() string {
	if p.IsString() {
		var str string
		if err := json.Unmarshal(p, &str); err == nil {
			return str
		}
	}
	return string(p)
}

// DataResult is a decoded response to the data command.
type DataResult struct {
	Status   Status
	Commands []Update
}
