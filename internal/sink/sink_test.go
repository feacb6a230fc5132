package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/centrifugal/gocomet/internal/configtypes"
	"github.com/centrifugal/gocomet/internal/metrics"
	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testUpdate(channel string, version int64, data string) protocol.Update {
	return protocol.Update{Command: protocol.CommandUpdate, Channel: channel, Version: version, Data: protocol.TextPayload(data)}
}

func TestEncode(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	data, err := Encode(testUpdate("news", 3, "hello"), at)
	require.NoError(t, err)
	require.JSONEq(t, `{"command":"update","channel":"news","version":3,"data":"hello","received_at":1700000000123}`, string(data))

	jsonUpdate := protocol.Update{Command: protocol.CommandUpdate, Channel: "news", Version: 4, Data: protocol.Payload(`{"a":1}`)}
	data, err = Encode(jsonUpdate, at)
	require.NoError(t, err)
	require.Equal(t, int64(1), gjson.GetBytes(data, "data.a").Int())
}

func TestEncodeKeepsStringData(t *testing.T) {
	res, err := protocol.DecodeDataResult([]byte(`{"status":1,"commands":[` +
		`{"command":"update","channel":"score","version":3,"data":"123"},` +
		`{"command":"update","channel":"flag","version":1,"data":"true"}]}`))
	require.NoError(t, err)
	require.Len(t, res.Commands, 2)

	for _, u := range res.Commands {
		data, err := Encode(u, time.UnixMilli(0))
		require.NoError(t, err)
		value := gjson.GetBytes(data, "data")
		require.Equal(t, gjson.String, value.Type, string(data))
		require.Equal(t, u.Data.String(), value.Str)
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.now = func() time.Time { return time.UnixMilli(1) }
	require.NoError(t, w.Publish(context.Background(), testUpdate("a", 1, "x")))
	require.NoError(t, w.Publish(context.Background(), testUpdate("b", 2, "y")))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "a", gjson.Get(lines[0], "channel").String())
	require.Equal(t, "y", gjson.Get(lines[1], "data").String())
	require.Equal(t, int64(1), gjson.Get(lines[1], "received_at").Int())
	require.NoError(t, w.Close())
}

func TestNATSSubject(t *testing.T) {
	s := &NATS{prefix: "gocomet."}
	require.Equal(t, "gocomet.news", s.Subject("news"))
	require.Error(t, s.Publish(context.Background(), testUpdate("", 1, "x")))
}

func TestRedisStream(t *testing.T) {
	s := &Redis{prefix: "stream:"}
	require.Equal(t, "stream:news", s.Stream("news"))
	require.Error(t, s.Publish(context.Background(), testUpdate("", 1, "x")))
}

func TestKafkaOpts(t *testing.T) {
	_, err := kafkaOpts(configtypes.KafkaSink{Topic: "t"})
	require.Error(t, err)
	_, err = kafkaOpts(configtypes.KafkaSink{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
	_, err = kafkaOpts(configtypes.KafkaSink{Brokers: []string{"localhost:9092"}, Topic: "t", SASLMechanism: "scram"})
	require.Error(t, err)
	opts, err := kafkaOpts(configtypes.KafkaSink{Brokers: []string{"localhost:9092"}, Topic: "t", SASLMechanism: "plain"})
	require.NoError(t, err)
	require.Len(t, opts, 4)
}

func TestBuild(t *testing.T) {
	sinks, err := Build(configtypes.Sinks{}, &bytes.Buffer{}, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, sinks)

	sinks, err = Build(configtypes.Sinks{Writer: configtypes.WriterSink{Enabled: true}}, &bytes.Buffer{}, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	require.Equal(t, "writer", sinks[0].Name())

	_, err = Build(configtypes.Sinks{
		Writer: configtypes.WriterSink{Enabled: true},
		Kafka:  configtypes.KafkaSink{Enabled: true},
	}, &bytes.Buffer{}, zerolog.Nop())
	require.ErrorContains(t, err, "kafka sink")
}

type fakeSink struct {
	name    string
	mu      sync.Mutex
	updates []protocol.Update
	block   chan struct{}
	err     error
	closed  bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(ctx context.Context, update protocol.Update) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates = append(s.updates, update)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) received() []protocol.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Update(nil), s.updates...)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestMetrics(t *testing.T) (*metrics.Registry, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(metrics.Config{Registerer: reg})
	require.NoError(t, err)
	return m, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, sink string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "sink" && l.GetValue() == sink {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestForwarderDefaults(t *testing.T) {
	f := NewForwarder(ForwarderConfig{}, NewWriter(io.Discard))
	require.Equal(t, DefaultQueueSize, f.config.QueueSize)
	require.Equal(t, DefaultPublishTimeout, f.config.PublishTimeout)
	require.Len(t, f.queues, 1)
	require.Equal(t, DefaultQueueSize, cap(f.queues[0].ch))
}

func TestForwarderDelivers(t *testing.T) {
	m, reg := newTestMetrics(t)
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	f := NewForwarder(ForwarderConfig{Logger: zerolog.Nop(), Metrics: m}, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	f.Enqueue(testUpdate("news", 1, "one"))
	f.Enqueue(testUpdate("news", 2, "two"))
	require.Eventually(t, func() bool {
		return len(a.received()) == 2 && len(b.received()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(1), a.received()[0].Version)
	require.Equal(t, int64(2), a.received()[1].Version)
	require.Equal(t, 2.0, counterValue(t, reg, "gocomet_sink_published_total", "a"))

	cancel()
	require.NoError(t, <-done)
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
}

func TestForwarderDropsWhenFull(t *testing.T) {
	m, reg := newTestMetrics(t)
	slow := &fakeSink{name: "slow"}
	f := NewForwarder(ForwarderConfig{QueueSize: 1, Logger: zerolog.Nop(), Metrics: m}, slow)

	f.Enqueue(testUpdate("news", 1, "one"))
	f.Enqueue(testUpdate("news", 2, "two"))
	f.Enqueue(testUpdate("news", 3, "three"))
	require.Equal(t, 2.0, counterValue(t, reg, "gocomet_sink_dropped_total", "slow"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()
	require.Eventually(t, func() bool {
		return len(slow.received()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(1), slow.received()[0].Version)
}

func TestForwarderSlowSinkDoesNotBlockOthers(t *testing.T) {
	blocked := &fakeSink{name: "blocked", block: make(chan struct{})}
	fast := &fakeSink{name: "fast"}
	f := NewForwarder(ForwarderConfig{QueueSize: 8, Logger: zerolog.Nop()}, blocked, fast)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	for i := 0; i < 3; i++ {
		f.Enqueue(testUpdate("news", int64(i), "x"))
	}
	require.Eventually(t, func() bool {
		return len(fast.received()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, blocked.received())

	cancel()
	require.NoError(t, <-done)
}

func TestForwarderPublishError(t *testing.T) {
	m, reg := newTestMetrics(t)
	failing := &fakeSink{name: "failing", err: errors.New("boom")}
	f := NewForwarder(ForwarderConfig{Logger: zerolog.Nop(), Metrics: m}, failing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()
	f.Enqueue(testUpdate("news", 1, "x"))
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "gocomet_sink_errors_total", "failing") == 1
	}, 5*time.Second, 10*time.Millisecond)
	n, err := testutil.GatherAndCount(reg, "gocomet_sink_published_total")
	require.NoError(t, err)
	require.Zero(t, n)
}
