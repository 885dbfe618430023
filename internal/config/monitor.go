package config

import (
	"strings"
	"time"
)

// Verbosity controls how much the engine reports.
type Verbosity string

const (
	VerbosityOff   Verbosity = "off"
	VerbosityOn    Verbosity = "on"
	VerbosityDebug Verbosity = "debug"
)

// ParseVerbosity normalizes the logging setting. A recognised logging value
// wins; otherwise the legacy debug flag selects "debug"; anything else is
// "off".
func ParseVerbosity(logging string, legacyDebug bool) Verbosity {
	switch v := Verbosity(strings.ToLower(strings.TrimSpace(logging))); v {
	case VerbosityOff, VerbosityOn, VerbosityDebug:
		return v
	}
	if legacyDebug {
		return VerbosityDebug
	}
	return VerbosityOff
}

// Debug reports whether diagnostic events should be emitted.
func (v Verbosity) Debug() bool { return v == VerbosityDebug }

// Operational reports whether gesture activity should be logged.
func (v Verbosity) Operational() bool { return v == VerbosityOn || v == VerbosityDebug }

// Monitor is the immutable per-INIT button configuration.
type Monitor struct {
	Chip      string
	Line      uint
	LongPress time.Duration
	Debounce  time.Duration
	Verbosity Verbosity

	// ResumeAfter is published for presentation clients; the engine does
	// not use it.
	ResumeAfter time.Duration
}

// DefaultMonitor returns the Monitor produced by an empty configuration.
func DefaultMonitor() Monitor {
	return (&Config{}).Monitor()
}

// Normalize replaces an empty chip, a zero line, non-positive durations and an
// unknown verbosity with their defaults.
func (m Monitor) Normalize() Monitor {
	d := DefaultMonitor()
	if m.Chip == "" {
		m.Chip = d.Chip
	}
	if m.Line == 0 {
		m.Line = d.Line
	}
	if m.LongPress <= 0 {
		m.LongPress = d.LongPress
	}
	if m.Debounce <= 0 {
		m.Debounce = d.Debounce
	}
	if m.ResumeAfter <= 0 {
		m.ResumeAfter = d.ResumeAfter
	}
	m.Verbosity = ParseVerbosity(string(m.Verbosity), false)
	return m
}
