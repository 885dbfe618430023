package gesture

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonnyb9/pagebtn/internal/clock"
	"github.com/sonnyb9/pagebtn/internal/emit"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

var defaultConfig = Config{LongPress: time.Second, Debounce: 50 * time.Millisecond}

type harness struct {
	clock   *clock.Fake
	rec     *emit.Recorder
	machine *Machine
	debug   []string
}

func newHarness(cfg Config) *harness {
	h := &harness{clock: clock.NewFake(epoch), rec: emit.NewRecorder()}
	h.machine = NewMachine(cfg, h.clock, h.rec, func(format string, args ...any) {
		h.debug = append(h.debug, fmt.Sprintf(format, args...))
	})
	return h
}

// at advances the fake clock to epoch+ms and delivers the edge.
func (h *harness) at(ms int, dir Direction) {
	h.clock.Set(epoch.Add(time.Duration(ms) * time.Millisecond))
	h.machine.Edge(dir, h.clock.Now())
}

func (h *harness) advanceTo(ms int) {
	h.clock.Set(epoch.Add(time.Duration(ms) * time.Millisecond))
}

func TestParseEdge(t *testing.T) {
	tests := []struct {
		line string
		want Direction
		ok   bool
	}{
		{"event: FALLING EDGE offset: 17 timestamp: [1700000000.123]", Falling, true},
		{"event:  RISING EDGE offset: 17 timestamp: [1700000000.456]", Rising, true},
		{"1700000000.123456789 falling gpiochip0 17", Falling, true},
		{"1700000000.123456789 rising gpiochip0 17", Rising, true},
		{"rising then falling", Falling, true},
		{"Monitoring line 17 on gpiochip0", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseEdge(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortPress(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.at(200, Rising)

	events := h.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, emit.ShortPress, events[0].Kind)
	assert.Equal(t, 200*time.Millisecond, events[0].Held)
	assert.Equal(t, StateReleased, h.machine.Snapshot().State)
	assert.Zero(t, h.clock.Pending(), "long-press timer must be cancelled on release")
}

func TestLongPressFiresWhileHeld(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.advanceTo(999)
	assert.Empty(t, h.rec.Events())

	h.advanceTo(1000)
	events := h.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, emit.LongPress, events[0].Kind)
	assert.Equal(t, epoch.Add(time.Second), events[0].Timestamp)
	assert.Equal(t, time.Second, events[0].Held)

	snap := h.machine.Snapshot()
	assert.Equal(t, StatePressed, snap.State)
	assert.True(t, snap.LongPressFired)

	h.at(1500, Rising)
	assert.Equal(t, []emit.Kind{emit.LongPress}, h.rec.Kinds(false))
	assert.False(t, h.machine.Snapshot().LongPressFired)
}

func TestReleaseAtThresholdIsLongPress(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.at(1000, Rising)

	assert.Equal(t, []emit.Kind{emit.LongPress}, h.rec.Kinds(false))
}

func TestDuplicateFallingDoesNotRestartTimer(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.at(600, Falling)
	assert.Equal(t, epoch, h.machine.Snapshot().PressStart)

	h.advanceTo(1000)
	assert.Equal(t, []emit.Kind{emit.LongPress}, h.rec.Kinds(false))

	h.at(1200, Rising)
	assert.Equal(t, []emit.Kind{emit.LongPress}, h.rec.Kinds(false))
	assert.Equal(t, 1, h.machine.Snapshot().Counts.Ignored)
}

func TestRisingInsideDebounceWindowEndsPress(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.at(20, Rising)

	events := h.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, emit.ShortPress, events[0].Kind)
	assert.Equal(t, 20*time.Millisecond, events[0].Held)
}

func TestFallingInsideDebounceWindowDropped(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.at(100, Rising)
	h.at(120, Falling)

	snap := h.machine.Snapshot()
	assert.Equal(t, StateReleased, snap.State)
	assert.Equal(t, 1, snap.Counts.Debounced)
	assert.Equal(t, epoch.Add(100*time.Millisecond), snap.LastAccepted)
	assert.Contains(t, h.debug, "Debounce: ignored event within 50ms")
	assert.Zero(t, h.clock.Pending())
}

func TestRisingWhileReleasedIgnored(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Rising)
	h.at(500, Rising)

	assert.Empty(t, h.rec.Events())
	snap := h.machine.Snapshot()
	assert.Equal(t, 2, snap.Counts.Ignored)
	// ignored edges still count as accepted for debounce purposes
	assert.Equal(t, epoch.Add(500*time.Millisecond), snap.LastAccepted)
}

func TestBounceRisingWhileReleasedInsideWindow(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.at(100, Rising)
	h.at(110, Rising)

	assert.Equal(t, []emit.Kind{emit.ShortPress}, h.rec.Kinds(false))
	assert.Equal(t, 1, h.machine.Snapshot().Counts.Debounced)
}

func TestFirstEdgeAlwaysAccepted(t *testing.T) {
	h := newHarness(Config{LongPress: time.Second, Debounce: time.Hour})

	h.at(0, Falling)
	assert.Equal(t, StatePressed, h.machine.Snapshot().State)
}

func TestOneGesturePerPress(t *testing.T) {
	h := newHarness(defaultConfig)

	for i := 0; i < 5; i++ {
		base := i * 3000
		h.at(base, Falling)
		if i%2 == 0 {
			h.at(base+300, Rising)
		} else {
			h.at(base+1800, Rising)
		}
	}

	assert.Equal(t, 3, h.rec.Count(emit.ShortPress))
	assert.Equal(t, 2, h.rec.Count(emit.LongPress))
}

func TestResetCancelsTimer(t *testing.T) {
	h := newHarness(defaultConfig)

	h.at(0, Falling)
	h.machine.Reset()
	h.advanceTo(5000)

	assert.Empty(t, h.rec.Events())
	snap := h.machine.Snapshot()
	assert.Equal(t, StateReleased, snap.State)
	assert.True(t, snap.LastAccepted.IsZero())

	// debounce history is cleared, so an immediate edge is accepted
	h.at(5001, Falling)
	assert.Equal(t, StatePressed, h.machine.Snapshot().State)
}

// stickyClock hands out timers whose Stop does nothing, modelling a callback
// that fired and is already queued when the press ends.
type stickyClock struct {
	*clock.Fake
}

type stickyTimer struct{}

func (stickyTimer) Stop() bool { return false }

func (c stickyClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.Fake.AfterFunc(d, f)
	return stickyTimer{}
}

func TestStaleTimerCallbackIsNoop(t *testing.T) {
	fc := clock.NewFake(epoch)
	rec := emit.NewRecorder()
	m := NewMachine(defaultConfig, stickyClock{fc}, rec, nil)

	m.Edge(Falling, epoch)
	fc.Set(epoch.Add(300 * time.Millisecond))
	m.Edge(Rising, fc.Now())

	fc.Set(epoch.Add(400 * time.Millisecond))
	m.Edge(Falling, fc.Now())

	// the first timer fires at 1000 but belongs to the finished press
	fc.Set(epoch.Add(1000 * time.Millisecond))
	assert.Equal(t, []emit.Kind{emit.ShortPress}, rec.Kinds(false))

	fc.Set(epoch.Add(1400 * time.Millisecond))
	assert.Equal(t, []emit.Kind{emit.ShortPress, emit.LongPress}, rec.Kinds(false))
}

func TestHandleLine(t *testing.T) {
	h := newHarness(defaultConfig)

	h.machine.HandleLine("event: FALLING EDGE offset: 17", epoch)
	h.machine.HandleLine("some banner", epoch.Add(10*time.Millisecond))
	h.machine.HandleLine("event:  RISING EDGE offset: 17", epoch.Add(300*time.Millisecond))

	assert.Equal(t, []emit.Kind{emit.ShortPress}, h.rec.Kinds(false))
	assert.Equal(t, []string{
		"GPIO event: event: FALLING EDGE offset: 17",
		"GPIO event: some banner",
		"GPIO event: event:  RISING EDGE offset: 17",
	}, h.debug)
}
