package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const execLogPrefix = "launch:executor"

// ErrLoopStopped is returned by Loop.Execute once the loop has stopped.
var ErrLoopStopped = errors.New("launch loop stopped")

// Executor runs launch calls on a particular goroutine.
type Executor interface {
	Execute(ctx context.Context, fn func()) error
}

// Inline runs fn on the calling goroutine.
type Inline struct{}

// Execute calls fn.
func (Inline) Execute(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Loop runs every submitted function on one dedicated goroutine, in
// submission order, like a UI thread.
type Loop struct {
	queue     chan func()
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLoop creates a Loop whose queue holds up to buffer pending functions.
func NewLoop(buffer int) *Loop {
	if buffer < 0 {
		buffer = 0
	}
	return &Loop{
		queue: make(chan func(), buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling Start more than once is a no-op.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop ends the loop after the function currently running returns. Queued
// functions are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	// never started: nothing else will close done
	l.startOnce.Do(func() {
		close(l.done)
	})
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	slog.Debug(fmt.Sprintf("%s - Loop started", execLogPrefix))
	for {
		select {
		case <-l.stop:
			slog.Debug(fmt.Sprintf("%s - Loop stopped", execLogPrefix))
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Execute queues fn and waits until it has run on the loop goroutine. A
// panic in fn is returned as an error.
func (l *Loop) Execute(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	var panicErr error
	wrapped := func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				panicErr = fmt.Errorf("%s - launch panicked: %v", execLogPrefix, r)
			}
		}()
		fn()
	}

	select {
	case <-l.stop:
		return ErrLoopStopped
	default:
	}
	select {
	case l.queue <- wrapped:
	case <-l.stop:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return panicErr
	case <-l.done:
		select {
		case <-finished:
			return panicErr
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
