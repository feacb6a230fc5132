// Package sink forwards updates received by gocomet client to external
// systems.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/tidwall/sjson"
)

// Sink publishes updates somewhere.
type Sink interface {
	// Name used in logs and metrics.
	Name() string
	Publish(ctx context.Context, update protocol.Update) error
	Close() error
}

// Encode returns update as JSON object stamped with receive time in
// milliseconds.
func Encode(update protocol.Update, receivedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(data, "received_at", receivedAt.UnixMilli())
}
