package gocomet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// recordedRequest is a command received by testServer over any transport.
type recordedRequest struct {
	RequestID  uint64
	Command    string
	Parameters map[string]string
	Header     http.Header
	At         time.Time
}

// testServer emulates gocomet server over both websocket and HTTP.
type testServer struct {
	*httptest.Server
	t *testing.T

	requests chan recordedRequest
	// dataReplies are served to data requests in order. When empty a data
	// request hangs until the client gives up or server is closed.
	dataReplies chan string
	// subscribeReplies override subscribe replies in order. Raw HTTP status
	// codes can be sent as "status:500".
	subscribeReplies chan string
	stop             chan struct{}

	mu       sync.Mutex
	accepted int
	conns    []*websocket.Conn
	writeMu  sync.Mutex
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		t:                t,
		requests:         make(chan recordedRequest, 1024),
		dataReplies:      make(chan string, 64),
		subscribeReplies: make(chan string, 64),
		stop:             make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		close(s.stop)
		s.closeConns()
		s.Close()
	})
	return s
}

func (s *testServer) host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		s.handleWebsocket(w, r)
		return
	}
	command := strings.TrimPrefix(r.URL.Path, "/")
	params := map[string]string{}
	for k, v := range r.URL.Query() {
		params[k] = v[0]
	}
	s.record(recordedRequest{Command: command, Parameters: params, Header: r.Header.Clone(), At: time.Now()})

	switch command {
	case protocol.CommandSubscribe:
		reply := s.subscribeReply()
		if code, ok := strings.CutPrefix(reply, "status:"); ok {
			if code == "500" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		_, _ = w.Write([]byte(reply))
	case protocol.CommandData:
		select {
		case reply := <-s.dataReplies:
			if reply == "status:500" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(reply))
		case <-r.Context().Done():
		case <-s.stop:
		}
	case protocol.CommandPing:
		_, _ = w.Write([]byte("pong"))
	case protocol.CommandAddChannels, protocol.CommandRemoveChannels:
		_, _ = w.Write([]byte(params[protocol.ParamID]))
	case protocol.CommandCreate, protocol.CommandUpdate, protocol.CommandClear:
		if params[protocol.ParamChannel] == "forbidden" {
			w.WriteHeader(http.StatusForbidden)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *testServer) subscribeReply() string {
	select {
	case reply := <-s.subscribeReplies:
		return reply
	default:
		return `{"command":"subscribe","subscriberId":"abc"}`
	}
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *testServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.accepted++
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.record(recordedRequest{
			RequestID:  req.RequestID,
			Command:    req.Command,
			Parameters: req.Parameters,
			Header:     r.Header.Clone(),
			At:         time.Now(),
		})
		switch req.Command {
		case protocol.CommandSubscribe:
			reply := s.subscribeReply()
			s.write(conn, `{"requestId":`+itoa(req.RequestID)+`,"data":`+reply+`}`)
		case protocol.CommandAddChannels, protocol.CommandRemoveChannels:
			id, _ := json.Marshal(req.Parameters[protocol.ParamID])
			s.write(conn, `{"requestId":`+itoa(req.RequestID)+`,"data":`+string(id)+`}`)
		}
	}
}

func (s *testServer) record(r recordedRequest) {
	select {
	case s.requests <- r:
	default:
	}
}

func itoa(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (s *testServer) write(conn *websocket.Conn, frame string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// push sends frame over the most recent websocket connection.
func (s *testServer) push(frame string) {
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		s.t.Fatal("no websocket connection to push to")
		return
	}
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	s.write(conn, frame)
}

func (s *testServer) closeConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *testServer) numAccepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *testServer) nextRequest() recordedRequest {
	s.t.Helper()
	select {
	case r := <-s.requests:
		return r
	case <-time.After(5 * time.Second):
		s.t.Fatal("timeout waiting for request")
		return recordedRequest{}
	}
}

// nextCommand skips requests until one with command arrives.
func (s *testServer) nextCommand(command string) recordedRequest {
	s.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-s.requests:
			if r.Command == command {
				return r
			}
		case <-deadline:
			s.t.Fatalf("timeout waiting for %s request", command)
			return recordedRequest{}
		}
	}
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
