// Package status provides a thread-safe status tracker for the pagebtn daemon.
// It is read by the HTTP handlers and by MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sonnyb9/pagebtn/internal/emit"
)

// NetworkInfo contains network state read from the environment.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Chip          string
	Line          uint
	LongPressMs   int64
	DebounceMs    int64
	ResumeAfterMs int64
	Logging       string
	HeartbeatMs   int64
	Broker        string
	HTTPAddr      string
	InfluxDB      bool
	Version       string
}

// Counts tracks events seen since the daemon started.
type Counts struct {
	ShortPress int
	LongPress  int
	GpioError  int
}

// LastEvent describes the most recent gesture or error.
type LastEvent struct {
	Kind    emit.Kind
	Time    time.Time
	Held    time.Duration
	Message string
}

// MonitorInfo mirrors the gpiomon supervisor state.
type MonitorInfo struct {
	Running        bool
	PID            int
	Starts         int
	Restarts       int
	DebounceFlag   bool
	Direct         bool
	RestartPending bool
	LastError      string
	Args           []string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Session       string
	Pressed       bool
	Counts        Counts
	LastGesture   *LastEvent
	LastError     *LastEvent
	Monitor       MonitorInfo
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetConfig replaces the displayed config, e.g. after a reload.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.snap.Config = cfg
	t.mu.Unlock()
}

// Record updates counters and last-event fields from an engine event.
// Debug events are ignored.
func (t *Tracker) Record(ev emit.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last := &LastEvent{Kind: ev.Kind, Time: ev.Timestamp, Held: ev.Held, Message: ev.Message}
	switch ev.Kind {
	case emit.ShortPress:
		t.snap.Counts.ShortPress++
		t.snap.LastGesture = last
	case emit.LongPress:
		t.snap.Counts.LongPress++
		t.snap.LastGesture = last
	case emit.GpioError:
		t.snap.Counts.GpioError++
		t.snap.LastError = last
	}
}

// UpdateEngine sets the engine session, press state and supervisor info.
func (t *Tracker) UpdateEngine(session string, pressed bool, mon MonitorInfo) {
	t.mu.Lock()
	t.snap.Session = session
	t.snap.Pressed = pressed
	t.snap.Monitor = mon
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.LastGesture != nil {
		g := *s.LastGesture
		s.LastGesture = &g
	}
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	s.Monitor.Args = append([]string(nil), s.Monitor.Args...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
