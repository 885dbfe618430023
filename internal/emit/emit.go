// Package emit defines the events the gesture engine reports to the outside
// world and the sinks that deliver them.
package emit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies an outbound event.
type Kind string

const (
	ShortPress Kind = "SHORT_PRESS"
	LongPress  Kind = "LONG_PRESS"
	GpioError  Kind = "GPIO_ERROR"
	Debug      Kind = "DEBUG"
)

// IsGesture reports whether k is a button gesture.
func (k Kind) IsGesture() bool {
	return k == ShortPress || k == LongPress
}

// Event is a single outbound notification.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Message   string        // GpioError and Debug only
	Held      time.Duration // gestures only: time between press and release (or long-press firing)
	Session   string        // engine session that produced the event
}

// Emitter receives engine events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// Func adapts a function to Emitter.
type Func func(Event)

// Emit calls f(e).
func (f Func) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = Func(func(Event) {})

// Fanout delivers each event to every emitter in order.
type Fanout []Emitter

// Emit forwards e to all emitters.
func (f Fanout) Emit(e Event) {
	for _, em := range f {
		em.Emit(e)
	}
}

// Channel delivers events on a buffered channel. Events are dropped when the
// buffer is full so the engine never waits on a slow consumer.
type Channel struct {
	ch      chan Event
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewChannel creates a Channel emitter with the given buffer size.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 1
	}
	return &Channel{ch: make(chan Event, size)}
}

// Emit queues e or drops it if the buffer is full or the emitter is closed.
func (c *Channel) Emit(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Dropped returns the number of events discarded so far.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

// Close closes the event channel. Later Emit calls are counted as dropped.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}
