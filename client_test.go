package gocomet

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu         sync.Mutex
	updates    []Update
	subscribed []string
	closed     []error

	subscribedCh chan string
	closedCh     chan error
}

func newRecorder() *recorder {
	return &recorder{
		subscribedCh: make(chan string, 16),
		closedCh:     make(chan error, 16),
	}
}

func (r *recorder) apply(c Config) Config {
	c.OnData = func(u Update) {
		r.mu.Lock()
		r.updates = append(r.updates, u)
		r.mu.Unlock()
	}
	c.OnSubscribed = func(id string) {
		r.mu.Lock()
		r.subscribed = append(r.subscribed, id)
		r.mu.Unlock()
		r.subscribedCh <- id
	}
	c.OnClosed = func(err error) {
		r.mu.Lock()
		r.closed = append(r.closed, err)
		r.mu.Unlock()
		r.closedCh <- err
	}
	return c
}

func (r *recorder) getUpdates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recorder) waitSubscribed(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.subscribedCh:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for subscribe")
		return ""
	}
}

func (r *recorder) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.closedCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for close")
		return nil
	}
}

func newTestClient(t *testing.T, config Config) *Client {
	t.Helper()
	if config.Logger == nil {
		config.Logger = testLogger()
	}
	c, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientSubscribeOverWebsocket(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	c := newTestClient(t, rec.apply(Config{
		Host:     server.host(),
		Channels: []string{"global"},
	}))

	req := server.nextRequest()
	require.Equal(t, "subscribe", req.Command)
	require.Equal(t, uint64(1), req.RequestID)
	require.Equal(t, "global", req.Parameters["channels"])

	require.Equal(t, "abc", rec.waitSubscribed(t))
	require.Equal(t, ConnectionTypeWebSocket, c.ConnectionType())
	require.Equal(t, StateSubscribed, c.State())
	require.Equal(t, "abc", c.SubscriberID())
}

func TestClientAddRemoveChannels(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	c := newTestClient(t, rec.apply(Config{
		Host:     server.host(),
		Channels: []string{"global"},
	}))
	server.nextCommand("subscribe")
	rec.waitSubscribed(t)

	require.NoError(t, c.AddChannels("news", "sport"))
	req := server.nextCommand("addchannels")
	require.Equal(t, "abc", req.Parameters["id"])
	require.Equal(t, "news,sport", req.Parameters["channels"])
	require.Eventually(t, func() bool {
		return len(c.Channels()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"global", "news", "sport"}, c.Channels())

	require.NoError(t, c.RemoveChannels("sport", "global"))
	req = server.nextCommand("removechannels")
	require.Equal(t, "abc", req.Parameters["id"])
	require.Equal(t, "sport,global", req.Parameters["channels"])

	// Removed channels stay in the replay set.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"global", "news", "sport"}, c.Channels())

	// And are requested again on resubscribe.
	server.closeConns()
	rec.waitClosed(t)
	req = server.nextCommand("subscribe")
	require.Equal(t, "global,news,sport", req.Parameters["channels"])
}

func TestClientPushDispatch(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	c := newTestClient(t, rec.apply(Config{
		Host:     server.host(),
		Channels: []string{"global"},
	}))
	rec.waitSubscribed(t)

	server.push(`{"status":1,"commands":[` +
		`{"command":"create","channel":"global","version":1,"data":"first"},` +
		`{"command":"update","channel":"global","version":2,"data":{"k":"v"}},` +
		`{"command":"update","channel":"news","version":7,"data":"third"}]}`)

	require.Eventually(t, func() bool {
		return len(rec.getUpdates()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	updates := rec.getUpdates()
	require.Equal(t, "create", updates[0].Command)
	require.Equal(t, "first", updates[0].Data.String())
	require.JSONEq(t, `{"k":"v"}`, updates[1].Data.String())
	require.Equal(t, "news", updates[2].Channel)
	require.Equal(t, map[string]int64{"global": 2, "news": 7}, c.ChannelVersions())
}

func TestClientReconnectScheduledOnce(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	c := newTestClient(t, rec.apply(Config{
		Host:     server.host(),
		Channels: []string{"global"},
		Retry:    RetryPolicy{Delay: 300 * time.Millisecond},
	}))
	rec.waitSubscribed(t)
	require.Equal(t, 1, server.numAccepted())

	closedAt := time.Now()
	server.closeConns()
	err := rec.waitClosed(t)
	require.True(t, errors.Is(err, ErrConnectionClosed))
	require.Empty(t, c.SubscriberID())
	require.Eventually(t, func() bool {
		return c.State() == StateConnecting
	}, 5*time.Second, 10*time.Millisecond)

	// Explicit connect while reconnect is pending does nothing.
	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())

	req := server.nextCommand("subscribe")
	require.GreaterOrEqual(t, req.At.Sub(closedAt), 300*time.Millisecond)
	// Request ids start over on new connection.
	require.Equal(t, uint64(1), req.RequestID)
	require.Equal(t, "abc", rec.waitSubscribed(t))

	time.Sleep(400 * time.Millisecond)
	require.Equal(t, 2, server.numAccepted())
}

func TestClientDisableReconnect(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	c := newTestClient(t, rec.apply(Config{
		Host:             server.host(),
		Channels:         []string{"global"},
		DisableReconnect: true,
		Retry:            RetryPolicy{Delay: 10 * time.Millisecond},
	}))
	rec.waitSubscribed(t)

	server.closeConns()
	rec.waitClosed(t)
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, server.numAccepted())

	// Explicit restart.
	require.NoError(t, c.Connect())
	rec.waitSubscribed(t)
	require.Equal(t, 2, server.numAccepted())
}

func TestClientSendWhileReconnectPending(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	reg := prometheus.NewRegistry()
	c := newTestClient(t, rec.apply(Config{
		Host:              server.host(),
		Channels:          []string{"global"},
		Retry:             RetryPolicy{Delay: 300 * time.Millisecond},
		MetricsRegisterer: reg,
	}))
	rec.waitSubscribed(t)

	closedAt := time.Now()
	server.closeConns()
	rec.waitClosed(t)

	// Socket is closed until the reconnect timer fires: the command fails
	// right away and the unavailable transport does not arm another timer.
	require.NoError(t, c.AddChannels("news"))
	require.Eventually(t, func() bool {
		return gatheredValue(t, reg, "gocomet_transport_request_errors_total") == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1.0, gatheredValue(t, reg, "gocomet_client_reconnects_total"))

	req := server.nextCommand("subscribe")
	require.GreaterOrEqual(t, req.At.Sub(closedAt), 300*time.Millisecond)
	require.Equal(t, "global", req.Parameters["channels"])
	rec.waitSubscribed(t)
	require.Equal(t, []string{"global"}, c.Channels())

	time.Sleep(400 * time.Millisecond)
	require.Equal(t, 2, server.numAccepted())
	require.Equal(t, 1.0, gatheredValue(t, reg, "gocomet_client_reconnects_total"))
}

func TestClientSendWhenReconnectDisabled(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	reg := prometheus.NewRegistry()
	c := newTestClient(t, rec.apply(Config{
		Host:              server.host(),
		Channels:          []string{"global"},
		DisableReconnect:  true,
		MetricsRegisterer: reg,
	}))
	rec.waitSubscribed(t)

	server.closeConns()
	rec.waitClosed(t)
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.AddChannels("news"))
	require.Eventually(t, func() bool {
		return gatheredValue(t, reg, "gocomet_transport_request_errors_total") == 1
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateDisconnected, c.State())
	require.Equal(t, 1, server.numAccepted())
	require.Equal(t, 0.0, gatheredValue(t, reg, "gocomet_client_reconnects_total"))
	require.Equal(t, []string{"global"}, c.Channels())
}

func TestClientKeepAliveAfterReconnect(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	newTestClient(t, rec.apply(Config{
		Host:              server.host(),
		Channels:          []string{"global"},
		KeepAliveInterval: 20 * time.Millisecond,
		Retry:             RetryPolicy{Delay: 10 * time.Millisecond},
	}))
	rec.waitSubscribed(t)
	server.nextCommand("keepAlive")

	server.closeConns()
	rec.waitClosed(t)
	rec.waitSubscribed(t)
	resubscribedAt := time.Now()
	require.Equal(t, 2, server.numAccepted())

	// Keepalives recorded before reconnect are skipped.
	deadline := time.After(5 * time.Second)
	for {
		req := server.nextCommand("keepAlive")
		if req.At.After(resubscribedAt) {
			require.Greater(t, req.RequestID, uint64(1))
			return
		}
		select {
		case <-deadline:
			t.Fatal("no keepAlive on new connection")
		default:
		}
	}
}

func TestClientRetryExhausted(t *testing.T) {
	rec := newRecorder()
	c := newTestClient(t, rec.apply(Config{
		Host:     "127.0.0.1:1",
		Channels: []string{"global"},
		Retry:    RetryPolicy{Delay: 10 * time.Millisecond, MaxAttempts: 2},
	}))
	// Initial attempt plus two retries.
	for i := 0; i < 3; i++ {
		require.Error(t, rec.waitClosed(t))
	}
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)
	select {
	case <-rec.closedCh:
		t.Fatal("unexpected connection attempt after retries exhausted")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientMalformedSubscribeReconnects(t *testing.T) {
	server := newTestServer(t)
	server.subscribeReplies <- `{"command":"subscribe"}`
	rec := newRecorder()
	newTestClient(t, rec.apply(Config{
		Host:     server.host(),
		Channels: []string{"global"},
		Retry:    RetryPolicy{Delay: 10 * time.Millisecond},
	}))
	require.Equal(t, "abc", rec.waitSubscribed(t))
	require.Equal(t, 2, server.numAccepted())
}

func TestClientClose(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	c := newTestClient(t, rec.apply(Config{
		Host:     server.host(),
		Channels: []string{"global"},
	}))
	rec.waitSubscribed(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, StateDisconnected, c.State())
	require.ErrorIs(t, c.AddChannels("x"), ErrClientClosed)
	require.ErrorIs(t, c.RemoveChannels("x"), ErrClientClosed)
	require.ErrorIs(t, c.Connect(), ErrClientClosed)

	select {
	case <-rec.closedCh:
		t.Fatal("OnClosed must not be called on explicit Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientMetrics(t *testing.T) {
	server := newTestServer(t)
	rec := newRecorder()
	reg := prometheus.NewRegistry()
	c := newTestClient(t, rec.apply(Config{
		Host:              server.host(),
		Channels:          []string{"global"},
		MetricsRegisterer: reg,
	}))
	rec.waitSubscribed(t)
	server.push(`{"commands":[{"command":"create","channel":"global","version":1,"data":"x"}]}`)
	require.Eventually(t, func() bool {
		return gatheredValue(t, reg, "gocomet_client_updates_total") == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1.0, gatheredValue(t, reg, "gocomet_transport_requests_total"))
	n, err := testutil.GatherAndCount(reg, "gocomet_transport_requests_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, ConnectionTypeWebSocket, c.ConnectionType())
}

// gatheredValue sums all series of counter or gauge metric family.
func gatheredValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if m.GetCounter() != nil {
				total += m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(Config{Retry: RetryPolicy{Jitter: 2}})
	require.Error(t, err)
	_, err = New(Config{Channels: []string{""}})
	require.Error(t, err)
	_, err = New(Config{PollInterval: -time.Second})
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "subscribed", StateSubscribed.String())
	b, err := StateConnecting.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "connecting", string(b))
}
