// Package loop provides the single serialization point of the engine. Every
// input (process output, process exit, timer expiry, external command) is
// posted as a closure and run to completion, one at a time, on the goroutine
// that called Run.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/sonnyb9/pagebtn/internal/clock"
)

// DefaultQueueSize is the queue depth used when New is given size <= 0.
const DefaultQueueSize = 64

// Loop is a single-consumer work queue.
type Loop struct {
	clock clock.Clock
	queue chan func()

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Loop. Timers created through AfterFunc use c.
func New(c clock.Clock, size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		clock: c,
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run executes posted closures until ctx is cancelled or Stop is called.
// Closures still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case f := <-l.queue:
			f()
		}
	}
}

// Stop ends Run. Safe to call more than once and from any goroutine.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues f. It blocks while the queue is full and returns false if the
// loop has stopped.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- f:
		return true
	case <-l.done:
		return false
	}
}

// Call runs f on the loop and waits for it to finish. It must not be called
// from a closure running on the loop.
func (l *Loop) Call(f func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		f()
		close(finished)
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// AfterFunc schedules f to be posted to the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, f func()) clock.Timer {
	return l.clock.AfterFunc(d, func() { l.Post(f) })
}
