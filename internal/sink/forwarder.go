package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/centrifugal/gocomet/internal/metrics"
	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/rs/zerolog"
)

// Defaults used by Forwarder when ForwarderConfig leaves values unset.
const (
	// DefaultQueueSize is a per-sink queue capacity.
	DefaultQueueSize = 4096
	// DefaultPublishTimeout bounds a single Sink.Publish call.
	DefaultPublishTimeout = 5 * time.Second
)

// ForwarderConfig configures Forwarder.
type ForwarderConfig struct {
	// QueueSize is a per-sink queue capacity.
	QueueSize int
	// PublishTimeout bounds a single Publish call.
	PublishTimeout time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Registry
}

// Forwarder delivers updates to sinks. Every sink has its own bounded queue
// drained by a dedicated goroutine, so a slow sink never blocks the client
// or other sinks. Updates which do not fit into a queue are dropped.
type Forwarder struct {
	config ForwarderConfig
	queues []*sinkQueue
}

type sinkQueue struct {
	sink Sink
	ch   chan protocol.Update
}

// NewForwarder creates Forwarder.
func NewForwarder(config ForwarderConfig, sinks ...Sink) *Forwarder {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}
	f := &Forwarder{config: config}
	for _, s := range sinks {
		f.queues = append(f.queues, &sinkQueue{sink: s, ch: make(chan protocol.Update, config.QueueSize)})
	}
	return f
}

// Enqueue schedules update for delivery to all sinks. Never blocks.
func (f *Forwarder) Enqueue(update protocol.Update) {
	for _, q := range f.queues {
		select {
		case q.ch <- update:
		default:
			f.config.Metrics.IncSinkDropped(q.sink.Name())
			f.config.Logger.Warn().Str("sink", q.sink.Name()).Str("channel", update.Channel).
				Msg("sink queue is full, dropping update")
		}
	}
}

// Run delivers updates until ctx is done, then closes sinks. Updates still
// queued at that moment are discarded.
func (f *Forwarder) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, q := range f.queues {
		wg.Add(1)
		go func(q *sinkQueue) {
			defer wg.Done()
			f.drain(ctx, q)
		}(q)
	}
	wg.Wait()

	var errs []error
	for _, q := range f.queues {
		if err := q.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Forwarder) drain(ctx context.Context, q *sinkQueue) {
	name := q.sink.Name()
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-q.ch:
			pubCtx, cancel := context.WithTimeout(ctx, f.config.PublishTimeout)
			err := q.sink.Publish(pubCtx, update)
			cancel()
			if err != nil {
				f.config.Metrics.IncSinkError(name)
				f.config.Logger.Error().Err(err).Str("sink", name).Str("channel", update.Channel).
					Msg("error publishing update")
				continue
			}
			f.config.Metrics.IncSinkPublished(name)
		}
	}
}
