package mqtt

import (
	"sync"

	"github.com/sonnyb9/pagebtn/internal/emit"
)

// FakePublisher records published events for test assertions.
// It is safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	src            Source
	events         []emit.Event
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	publishErr       error
	publishSystemErr error
	closed           bool
	connected        bool
}

// NewFakePublisher creates a FakePublisher reporting src in payloads.
func NewFakePublisher(src Source) *FakePublisher {
	return &FakePublisher{src: src}
}

// Publish records the button event.
func (f *FakePublisher) Publish(event emit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}

	payload, err := FormatPayload(event, f.src)
	if err != nil {
		return err
	}
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishSystemErr != nil {
		return f.publishSystemErr
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

// FailPublish makes Publish and PublishSystem return the given errors.
func (f *FakePublisher) FailPublish(publish, system error) {
	f.mu.Lock()
	f.publishErr = publish
	f.publishSystemErr = system
	f.mu.Unlock()
}

// Events returns the published button events.
func (f *FakePublisher) Events() []emit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emit.Event(nil), f.events...)
}

// Payloads returns the JSON payloads of published button events.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns the published system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the JSON payloads of published system events.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded events and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
	f.payloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.publishErr = nil
	f.publishSystemErr = nil
	f.closed = false
	f.connected = false
}
