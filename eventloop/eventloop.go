// Package eventloop implements the single-threaded cooperative scheduler
// that drives a session proxy. Every proxy operation, inbound frame, and
// observer callback runs to completion on the loop goroutine; external
// goroutines marshal work onto the loop with Post.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a FIFO dispatcher. Work posted to the loop executes on the
// goroutine that calls Run, one function at a time, without preemption.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

// New returns an empty loop. The loop does nothing until Run is called.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post schedules fn for execution on the loop goroutine. Post is safe to
// call from any goroutine, including from within a running callback.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted functions until ctx is cancelled. It returns the
// context error. Work posted after cancellation is dropped.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunPending synchronously executes everything currently queued, including
// work posted by the executed functions themselves, and reports how many
// functions ran. It is intended for tests and embedding scenarios where
// the caller owns the dispatch thread.
func (l *Loop) RunPending() int {
	return l.drain()
}

func (l *Loop) drain() int {
	ran := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return ran
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		ran++
	}
}
