// Package loop provides the single execution context that owns messaging state.
// Every mutation of connection state, message logs and thread metadata runs on
// one goroutine; timers and transport callbacks re-enter through its inbox.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted to a stopped loop.
var ErrClosed = errors.New("loop closed")

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler runs callbacks on the owning execution context.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
}

// Executor is a Scheduler that can also run work and wait for it.
type Executor interface {
	Scheduler
	Do(ctx context.Context, fn func()) error
}

// Loop is a goroutine draining a single FIFO inbox. The inbox is unbounded so
// that Post never blocks, including when called from the loop itself.
type Loop struct {
	logger *zap.Logger
	wake   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	queue  []func()
	closed bool
}

// New starts a loop.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post enqueues fn. Work posted after Close is dropped.
func (l *Loop) Post(fn func()) {
	l.enqueue(fn)
}

func (l *Loop) enqueue(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// AfterFunc schedules fn to run on the loop after d. A timer stopped before
// its callback reaches the front of the inbox never runs.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	return t
}

// Do runs fn on the loop and waits for it to finish or for ctx to end.
// It must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.enqueue(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops accepting work, runs what is already queued and waits for the
// loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}

type loopTimer struct {
	timer *time.Timer

	mu   sync.Mutex
	done bool
}

func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	already := t.done
	t.done = true
	t.timer.Stop()
	return !already
}

func (t *loopTimer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
