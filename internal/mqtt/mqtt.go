// Package mqtt publishes button events and daemon lifecycle events to an MQTT
// broker, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sonnyb9/pagebtn/internal/emit"
)

// ErrNotConnected is returned when the broker is unreachable and the message
// cannot be buffered.
var ErrNotConnected = errors.New("mqtt: not connected")

// TimestampFormat is used for every timestamp in a payload.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// System event names.
const (
	EventStartup   = "STARTUP"
	EventShutdown  = "SHUTDOWN"
	EventHeartbeat = "HEARTBEAT"
	EventReload    = "RELOAD"
	EventOffline   = "OFFLINE"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a gesture or GPIO error event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event emit.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics are the two topics the daemon publishes on.
type Topics struct {
	Events string
	System string
}

// NewTopics derives topics from prefix, or from the button's chip and line
// when prefix is empty.
func NewTopics(prefix, chip string, line uint) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = fmt.Sprintf("pagebtn/%s/%d", chip, line)
	}
	return Topics{
		Events: prefix + "/events",
		System: prefix + "/system",
	}
}

// Source identifies the button that produced an event.
type Source struct {
	Chip string
	Line uint
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Button ButtonPayload `json:"button"`
}

// ButtonPayload contains the button event details.
type ButtonPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Chip      string `json:"chip"`
	Line      uint   `json:"line"`
	HeldMs    int64  `json:"held_ms,omitempty"`
	Message   string `json:"message,omitempty"`
	Session   string `json:"session,omitempty"`
}

// FormatPayload creates the JSON payload for a button event.
func FormatPayload(event emit.Event, src Source) ([]byte, error) {
	payload := Payload{
		Button: ButtonPayload{
			Timestamp: event.Timestamp.UTC().Format(TimestampFormat),
			Event:     string(event.Kind),
			Chip:      src.Chip,
			Line:      src.Line,
			HeldMs:    event.Held.Milliseconds(),
			Message:   event.Message,
			Session:   event.Session,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the payload for simple system events (LWT) that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(TimestampFormat)
	}
	return json.Marshal(SystemPayload{System: inner})
}
