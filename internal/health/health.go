// Package health serves state of gocomet client for health checks.
package health

import (
	"encoding/json"
	"net/http"

	"github.com/centrifugal/gocomet"
)

// Source of client state.
type Source interface {
	State() gocomet.State
	SubscriberID() string
	ConnectionType() string
	Channels() []string
}

type status struct {
	State          gocomet.State `json:"state"`
	SubscriberID   string        `json:"subscriber_id,omitempty"`
	ConnectionType string        `json:"connection_type"`
	Channels       []string      `json:"channels"`
}

// Handler handles health endpoint. Responds 200 when client is subscribed
// and 503 otherwise.
type Handler struct {
	source Source
}

// NewHandler creates new Handler.
func NewHandler(source Source) *Handler {
	return &Handler{source: source}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	st := status{
		State:          h.source.State(),
		SubscriberID:   h.source.SubscriberID(),
		ConnectionType: h.source.ConnectionType(),
		Channels:       h.source.Channels(),
	}
	w.Header().Set("Content-Type", "application/json")
	if st.State != gocomet.StateSubscribed {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}
