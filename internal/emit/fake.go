package emit

import "sync"

// Recorder is a test Emitter that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of recorded events, optionally excluding Debug.
func (r *Recorder) Kinds(withDebug bool) []Kind {
	var out []Kind
	for _, e := range r.Events() {
		if e.Kind == Debug && !withDebug {
			continue
		}
		out = append(out, e.Kind)
	}
	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Messages returns the messages of recorded events of kind k.
func (r *Recorder) Messages(k Kind) []string {
	var out []string
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e.Message)
		}
	}
	return out
}

// Reset clears recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
