package gesture

import (
	"time"

	"github.com/sonnyb9/pagebtn/internal/clock"
	"github.com/sonnyb9/pagebtn/internal/emit"
)

// DebugFunc receives diagnostic messages. It may be nil.
type DebugFunc func(format string, args ...any)

// Machine is the press/release state machine. It is not safe for concurrent
// use; the caller serializes Edge, HandleLine, Reset and timer callbacks
// (the engine does this by giving it a loop-backed clock).
type Machine struct {
	cfg    Config
	clock  clock.Clock
	out    emit.Emitter
	debugf DebugFunc

	pressed        bool
	pressStart     time.Time
	longPressFired bool

	timer    clock.Timer
	timerSeq uint64

	lastAccepted time.Time
	counts       Counts
}

// NewMachine creates a Machine in the Released state.
func NewMachine(cfg Config, c clock.Clock, out emit.Emitter, debugf DebugFunc) *Machine {
	if out == nil {
		out = emit.Discard
	}
	if debugf == nil {
		debugf = func(string, ...any) {}
	}
	return &Machine{cfg: cfg, clock: c, out: out, debugf: debugf}
}

// HandleLine parses one monitor output line and feeds any edge it contains.
func (m *Machine) HandleLine(line string, at time.Time) {
	m.debugf("GPIO event: %s", line)
	dir, ok := ParseEdge(line)
	if !ok {
		return
	}
	m.Edge(dir, at)
}

// Edge processes a transition that arrived at the given time.
func (m *Machine) Edge(dir Direction, at time.Time) {
	if !m.lastAccepted.IsZero() && at.Sub(m.lastAccepted) < m.cfg.Debounce {
		// A release is honoured inside the window so a quick tap still ends
		// the press.
		if !(dir == Rising && m.pressed) {
			m.counts.Debounced++
			m.debugf("Debounce: ignored event within %dms", m.cfg.Debounce.Milliseconds())
			return
		}
	}
	m.lastAccepted = at
	m.counts.Edges++

	switch dir {
	case Falling:
		if m.pressed {
			m.counts.Ignored++
			return
		}
		m.pressed = true
		m.pressStart = at
		m.longPressFired = false
		m.startTimer()

	case Rising:
		if !m.pressed {
			m.counts.Ignored++
			return
		}
		m.pressed = false
		m.cancelTimer()
		if m.longPressFired {
			m.longPressFired = false
			return
		}
		m.counts.ShortPress++
		m.out.Emit(emit.Event{
			Kind:      emit.ShortPress,
			Timestamp: at,
			Held:      at.Sub(m.pressStart),
		})
	}
}

// Reset cancels any pending long-press timer and returns to Released with no
// debounce history.
func (m *Machine) Reset() {
	m.cancelTimer()
	m.pressed = false
	m.pressStart = time.Time{}
	m.longPressFired = false
	m.lastAccepted = time.Time{}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:          StateReleased,
		LongPressFired: m.longPressFired,
		TimerPending:   m.timer != nil,
		LastAccepted:   m.lastAccepted,
		Counts:         m.counts,
	}
	if m.pressed {
		s.State = StatePressed
		s.PressStart = m.pressStart
	}
	return s
}

func (m *Machine) startTimer() {
	m.cancelTimer()
	seq := m.timerSeq
	m.timer = m.clock.AfterFunc(m.cfg.LongPress, func() { m.onLongPress(seq) })
}

// cancelTimer stops the pending timer. Bumping the sequence also neutralises
// a callback that fired but has not run yet.
func (m *Machine) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Machine) onLongPress(seq uint64) {
	if seq != m.timerSeq {
		return
	}
	m.timer = nil
	if !m.pressed || m.longPressFired {
		return
	}
	m.longPressFired = true
	m.counts.LongPress++
	now := m.clock.Now()
	m.out.Emit(emit.Event{
		Kind:      emit.LongPress,
		Timestamp: now,
		Held:      now.Sub(m.pressStart),
	})
}
