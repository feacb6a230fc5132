package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for payloads which are not valid JSON or miss
// required fields.
var ErrMalformed = errors.New("malformed message")

// Frame is a decoded inbound websocket frame. A frame is a reply when its
// RequestID matches an outstanding request, otherwise it may carry a batch of
// pushed updates.
type Frame struct {
	RequestID    uint64
	HasRequestID bool
	// Data is the raw JSON of the reply data field.
	Data []byte
	// Commands is non-nil when the frame carries a commands array.
	Commands []Update
}

// IsPush reports whether the frame carries updates.
func (f Frame) IsPush() bool {
	return f.Commands != nil
}

// EncodeRequest encodes websocket request envelope.
func EncodeRequest(requestID uint64, command string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = map[string]string{}
	}
	return json.Marshal(Request{RequestID: requestID, Command: command, Parameters: params})
}

// DecodeFrame decodes a websocket frame sent by the server.
func DecodeFrame(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return Frame{}, ErrMalformed
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return Frame{}, ErrMalformed
	}
	var f Frame
	if id := res.Get("requestId"); id.Exists() && id.Type == gjson.Number {
		f.RequestID = id.Uint()
		f.HasRequestID = true
	}
	if d := res.Get("data"); d.Exists() {
		f.Data = []byte(d.Raw)
	}
	if cmds := res.Get("commands"); cmds.IsArray() {
		commands, err := decodeCommands(cmds)
		if err != nil {
			return Frame{}, err
		}
		f.Commands = commands
	}
	return f, nil
}

// DecodeSubscribeResult extracts subscriber identity from subscribe reply.
func DecodeSubscribeResult(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", ErrMalformed
	}
	id := gjson.GetBytes(data, "subscriberId").String()
	if id == "" {
		return "", fmt.Errorf("%w: no subscriberId in subscribe reply", ErrMalformed)
	}
	return id, nil
}

// DecodeDataResult decodes data command response. Status is accepted both as
// a JSON number and as a JSON string.
func DecodeDataResult(data []byte) (DataResult, error) {
	if !gjson.ValidBytes(data) {
		return DataResult{}, ErrMalformed
	}
	res := gjson.ParseBytes(data)
	status := res.Get("status")
	if !status.Exists() {
		return DataResult{}, fmt.Errorf("%w: no status in data result", ErrMalformed)
	}
	result := DataResult{Status: Status(status.String())}
	if cmds := res.Get("commands"); cmds.IsArray() {
		commands, err := decodeCommands(cmds)
		if err != nil {
			return DataResult{}, err
		}
		result.Commands = commands
	}
	return result, nil
}

func decodeCommands(cmds gjson.Result) ([]Update, error) {
	commands := make([]Update, 0, len(cmds.Array()))
	if err := json.Unmarshal([]byte(cmds.Raw), &commands); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return commands, nil
}
