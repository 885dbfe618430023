package web

import (
	"encoding/json"

	"github.com/sonnyb9/pagebtn/internal/emit"
)

// Source identifies the button in stream messages.
type Source struct {
	Chip string
	Line uint
}

// EventJSON is one message on the /events stream.
type EventJSON struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Chip      string `json:"chip"`
	Line      uint   `json:"line"`
	HeldMs    int64  `json:"held_ms,omitempty"`
	Message   string `json:"message,omitempty"`
	Session   string `json:"session,omitempty"`
}

// FormatEvent encodes ev as a stream message.
func FormatEvent(ev emit.Event, src Source) ([]byte, error) {
	return json.Marshal(EventJSON{
		Type:      "event",
		Event:     string(ev.Kind),
		Timestamp: ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Chip:      src.Chip,
		Line:      src.Line,
		HeldMs:    ev.Held.Milliseconds(),
		Message:   ev.Message,
		Session:   ev.Session,
	})
}
