package health

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/centrifugal/gocomet"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	state gocomet.State
	id    string
}

func (s fakeSource) State() gocomet.State   { return s.state }
func (s fakeSource) SubscriberID() string   { return s.id }
func (s fakeSource) ConnectionType() string { return gocomet.ConnectionTypeWebSocket }
func (s fakeSource) Channels() []string     { return []string{"global"} }

func get(t *testing.T, h http.Handler) (int, string, string) {
	t.Helper()
	ts := httptest.NewServer(h)
	defer ts.Close()
	res, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, res.Header.Get("Content-Type"), string(data)
}

func TestHealthHandlerSubscribed(t *testing.T) {
	code, contentType, body := get(t, NewHandler(fakeSource{state: gocomet.StateSubscribed, id: "abc"}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "application/json", contentType)
	require.JSONEq(t, `{"state":"subscribed","subscriber_id":"abc","connection_type":"WebSocket","channels":["global"]}`, body)
}

func TestHealthHandlerNotSubscribed(t *testing.T) {
	code, _, body := get(t, NewHandler(fakeSource{state: gocomet.StateConnecting}))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.JSONEq(t, `{"state":"connecting","connection_type":"WebSocket","channels":["global"]}`, body)
}
