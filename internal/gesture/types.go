// Package gesture classifies button edge transitions into short and long
// presses. It has no knowledge of processes or I/O: edges and their arrival
// times are passed in, timers come from an injected clock.
package gesture

import (
	"strings"
	"time"
)

// Direction is the direction of a signal transition.
type Direction string

const (
	// Falling is the high-to-low transition: the button was pressed
	// (the line is pulled up).
	Falling Direction = "FALLING"
	// Rising is the low-to-high transition: the button was released.
	Rising Direction = "RISING"
)

// EdgeEvent is a single parsed transition.
type EdgeEvent struct {
	Direction Direction
	Time      time.Time
}

// ParseEdge classifies a monitor output line. A line mentioning "falling" is
// a Falling edge even if it also mentions "rising". Matching ignores case.
func ParseEdge(line string) (Direction, bool) {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "falling"):
		return Falling, true
	case strings.Contains(l, "rising"):
		return Rising, true
	}
	return "", false
}

// State is the press state.
type State string

const (
	StateReleased State = "RELEASED"
	StatePressed  State = "PRESSED"
)

// Config holds the timing parameters of the machine.
type Config struct {
	LongPress time.Duration
	Debounce  time.Duration
}

// Counts tracks what the machine has seen since it was created.
type Counts struct {
	Edges      int // edges that passed the debounce filter
	Debounced  int // edges dropped by the debounce filter
	Ignored    int // accepted edges that did not change state
	ShortPress int
	LongPress  int
}

// Snapshot is a read-only copy of the machine state.
type Snapshot struct {
	State          State
	PressStart     time.Time
	LongPressFired bool
	TimerPending   bool
	LastAccepted   time.Time
	Counts         Counts
}
