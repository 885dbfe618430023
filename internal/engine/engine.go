// Package engine owns the gesture engine: one serialization loop, the press
// state machine and the gpiomon supervisor. External callers interact with it
// through Init, Shutdown, Stats and Run; everything else happens on the loop.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sonnyb9/pagebtn/internal/clock"
	"github.com/sonnyb9/pagebtn/internal/config"
	"github.com/sonnyb9/pagebtn/internal/emit"
	"github.com/sonnyb9/pagebtn/internal/gesture"
	"github.com/sonnyb9/pagebtn/internal/loop"
	"github.com/sonnyb9/pagebtn/internal/monitor"
)

// ErrStopped is returned when the engine loop is no longer running.
var ErrStopped = errors.New("engine stopped")

// Options wires an Engine.
type Options struct {
	Launcher monitor.Launcher
	Monitor  monitor.Options
	Emitter  emit.Emitter
	Clock    clock.Clock
	Logger   *log.Entry

	QueueSize int
}

// Stats is a snapshot of the engine, taken on the loop.
type Stats struct {
	Active  bool
	Session string
	Inits   int
	Config  config.Monitor
	Press   gesture.Snapshot
	Monitor monitor.Stats
}

// Engine is the gesture engine.
type Engine struct {
	loop     *loop.Loop
	launcher monitor.Launcher
	monOpts  monitor.Options
	out      emit.Emitter
	log      *log.Entry

	// loop-owned
	active  bool
	inits   int
	session string
	cfg     config.Monitor
	machine *gesture.Machine
	sup     *monitor.Supervisor
}

// New creates an idle Engine. Call Run, then Init.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Emitter == nil {
		opts.Emitter = emit.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "engine")
	}
	if opts.Launcher == nil {
		opts.Launcher = monitor.NewExecLauncher(0)
	}
	return &Engine{
		loop:     loop.New(opts.Clock, opts.QueueSize),
		launcher: opts.Launcher,
		monOpts:  opts.Monitor,
		out:      opts.Emitter,
		log:      opts.Logger,
	}
}

// Run drives the engine until ctx is cancelled, then tears everything down.
func (e *Engine) Run(ctx context.Context) error {
	err := e.loop.Run(ctx)
	// The loop has exited, so nothing else touches engine state.
	e.teardown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Init (re)initializes the engine with cfg: any running monitor is stopped,
// press state is reset and a fresh monitor is started.
func (e *Engine) Init(cfg config.Monitor) error {
	if !e.loop.Call(func() { e.init(cfg) }) {
		return ErrStopped
	}
	return nil
}

// Shutdown stops the monitor and cancels all timers. The engine can be
// initialized again afterwards.
func (e *Engine) Shutdown() error {
	if !e.loop.Call(e.teardown) {
		return ErrStopped
	}
	return nil
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() (Stats, error) {
	var st Stats
	if !e.loop.Call(func() { st = e.stats() }) {
		return Stats{}, ErrStopped
	}
	return st, nil
}

func (e *Engine) init(cfg config.Monitor) {
	e.teardown()
	cfg = cfg.Normalize()

	e.inits++
	e.active = true
	e.cfg = cfg
	e.session = uuid.NewString()

	logger := e.log.WithFields(log.Fields{
		"chip":    cfg.Chip,
		"line":    cfg.Line,
		"session": e.session,
	})
	out := &sessionEmitter{session: e.session, clock: e.loop, next: e.out}
	debugf := e.debugFunc(cfg.Verbosity, out)

	e.machine = gesture.NewMachine(gesture.Config{
		LongPress: cfg.LongPress,
		Debounce:  cfg.Debounce,
	}, e.loop, out, debugf)

	e.sup = monitor.New(monitor.Config{
		Executor: e.loop,
		Launcher: e.launcher,
		Settings: monitor.Settings{Chip: cfg.Chip, Line: cfg.Line, Debounce: cfg.Debounce},
		Options:  e.monOpts,
		OnLine:   e.machine.HandleLine,
		Emitter:  out,
		Debugf:   debugf,
		Logger:   logger,
	})

	logger.WithFields(log.Fields{
		"long_press": cfg.LongPress,
		"debounce":   cfg.Debounce,
		"logging":    cfg.Verbosity,
	}).Info("engine initialized")

	e.sup.Start()
}

func (e *Engine) teardown() {
	if !e.active {
		return
	}
	e.active = false
	if e.sup != nil {
		e.sup.Stop()
	}
	if e.machine != nil {
		e.machine.Reset()
	}
	e.log.WithField("session", e.session).Info("engine stopped")
}

func (e *Engine) stats() Stats {
	st := Stats{
		Active:  e.active,
		Session: e.session,
		Inits:   e.inits,
		Config:  e.cfg,
	}
	if e.machine != nil {
		st.Press = e.machine.Snapshot()
	}
	if e.sup != nil {
		st.Monitor = e.sup.Stats()
	}
	return st
}

// debugFunc returns the diagnostic sink for the given verbosity. Messages are
// dropped unless verbosity is debug.
func (e *Engine) debugFunc(v config.Verbosity, out emit.Emitter) func(string, ...any) {
	if !v.Debug() {
		return func(string, ...any) {}
	}
	return func(format string, args ...any) {
		out.Emit(emit.Event{Kind: emit.Debug, Message: fmt.Sprintf(format, args...)})
	}
}

// sessionEmitter tags events with the session that produced them.
type sessionEmitter struct {
	session string
	clock   clock.Clock
	next    emit.Emitter
}

func (s *sessionEmitter) Emit(ev emit.Event) {
	ev.Session = s.session
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock.Now()
	}
	s.next.Emit(ev)
}
