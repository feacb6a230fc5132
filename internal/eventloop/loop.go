// Package eventloop provides a single logical thread of execution: callbacks
// posted to a Loop run one at a time in FIFO order on the loop goroutine.
package eventloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loop serializes execution of posted functions.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wakeCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// New creates Loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

// Run processes posted functions until Stop is called.
func (l *Loop) Run() {
	for {
		select {
		case <-l.doneCh:
			return
		case <-l.wakeCh:
		}
		for {
			l.mu.Lock()
			if l.stopped || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			fn()
		}
	}
}

// Post schedules fn to run on the loop. It never blocks so it's safe to call
// from the loop itself. Returns false if loop is already stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	return true
}

// Stop stops the loop. Functions still queued are dropped.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.doneCh)
	})
}

// Done is closed when the loop is stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

// Timer is a cancellable delayed call scheduled with AfterFunc.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// AfterFunc posts fn to the loop after delay d. Stopping the returned Timer
// guarantees fn won't run even if the timer already fired and fn is waiting
// in the queue.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped.Load() {
				return
			}
			fn()
		})
	})
	return tm
}

// Stop cancels the timer. Safe to call on nil Timer.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	t.t.Stop()
}
