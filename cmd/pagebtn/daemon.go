package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sonnyb9/pagebtn/internal/config"
	"github.com/sonnyb9/pagebtn/internal/emit"
	"github.com/sonnyb9/pagebtn/internal/engine"
	"github.com/sonnyb9/pagebtn/internal/gesture"
	"github.com/sonnyb9/pagebtn/internal/influx"
	"github.com/sonnyb9/pagebtn/internal/mqtt"
	"github.com/sonnyb9/pagebtn/internal/status"
	"github.com/sonnyb9/pagebtn/internal/web"
)

type gestureEngine interface {
	Init(config.Monitor) error
	Shutdown() error
	Stats() (engine.Stats, error)
}

type eventRecorder interface {
	Record(emit.Event)
}

type sourceSetter interface {
	SetSource(mqtt.Source)
}

// daemon routes engine events to the outside world and handles signals.
// publisher, recorder and hub are optional.
type daemon struct {
	engine    gestureEngine
	publisher mqtt.Publisher
	recorder  eventRecorder
	tracker   *status.Tracker
	hub       *web.Hub

	load     func() (*config.Config, error)
	now      func() time.Time
	forceDbg bool
	log      *log.Entry

	verbosity config.Verbosity
}

// start initializes the engine with cfg and announces STARTUP.
func (d *daemon) start(cfg *config.Config) error {
	m := cfg.Monitor()
	d.verbosity = m.Verbosity
	if err := d.engine.Init(m); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	d.refresh()

	d.log.WithFields(log.Fields{
		"chip":       m.Chip,
		"line":       m.Line,
		"long_press": m.LongPress,
		"debounce":   m.Debounce,
		"broker":     cfg.MQTT.Broker,
	}).Info("started")

	d.publishStatus(mqtt.EventStartup, "", true)
	return nil
}

func (d *daemon) runLoop(events <-chan emit.Event, tick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.handleEvent(ev)
			if ev.Kind != emit.Debug {
				d.refresh()
			}

		case <-tick:
			d.refresh()

		case <-heartbeat:
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			d.refresh()
			d.publishStatus(mqtt.EventHeartbeat, "", false)

		case s := <-sig:
			if s == syscall.SIGHUP {
				d.reload()
				continue
			}
			d.log.Infof("received %v, shutting down", s)
			if err := d.engine.Shutdown(); err != nil {
				d.log.WithError(err).Warn("engine shutdown")
			}
			d.refresh()
			d.publishStatus(mqtt.EventShutdown, signalName(s), true)
			return nil
		}
	}
}

func (d *daemon) handleEvent(ev emit.Event) {
	entry := d.log.WithField("session", ev.Session)
	switch ev.Kind {
	case emit.Debug:
		entry.Debug(ev.Message)
		return
	case emit.GpioError:
		entry.Error(ev.Message)
	case emit.ShortPress:
		if d.verbosity.Operational() {
			entry.WithField("held", ev.Held).Info("Short press detected")
		}
	case emit.LongPress:
		if d.verbosity.Operational() {
			entry.WithField("held", ev.Held).Info("Long press detected")
		}
	}

	d.tracker.Record(ev)
	if d.hub != nil {
		d.hub.Broadcast(ev)
	}
	if d.recorder != nil {
		d.recorder.Record(ev)
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ev); err != nil {
			entry.WithError(err).Warn("publish error")
		}
	}
}

// reload re-reads the configuration and re-initializes the engine. A bad
// file leaves the running configuration in place.
func (d *daemon) reload() {
	cfg, err := d.load()
	if err != nil {
		d.log.WithError(err).Error("reload failed, keeping current configuration")
		return
	}
	m := cfg.Monitor()
	log.SetLevel(logLevel(m.Verbosity, d.forceDbg))
	d.verbosity = m.Verbosity

	if err := d.engine.Init(m); err != nil {
		d.log.WithError(err).Error("reinit engine")
		return
	}

	d.tracker.SetConfig(statusConfig(cfg))
	if s, ok := d.publisher.(sourceSetter); ok {
		s.SetSource(mqtt.Source{Chip: m.Chip, Line: m.Line})
	}
	if r, ok := d.recorder.(*influx.Recorder); ok {
		r.SetSource(influx.Source{Chip: m.Chip, Line: m.Line})
	}
	if d.hub != nil {
		d.hub.SetSource(web.Source{Chip: m.Chip, Line: m.Line})
	}
	d.refresh()

	d.log.WithFields(log.Fields{"chip": m.Chip, "line": m.Line, "logging": m.Verbosity}).Info("configuration reloaded")
	d.publishStatus(mqtt.EventReload, "SIGHUP", false)
}

// refresh copies engine state into the tracker.
func (d *daemon) refresh() {
	st, err := d.engine.Stats()
	if err != nil {
		return
	}
	d.tracker.UpdateEngine(st.Session, st.Press.State == gesture.StatePressed, status.MonitorInfo{
		Running:        st.Monitor.Running,
		PID:            st.Monitor.PID,
		Starts:         st.Monitor.Starts,
		Restarts:       st.Monitor.Restarts,
		DebounceFlag:   st.Monitor.DebounceFlag,
		Direct:         st.Monitor.Direct,
		RestartPending: st.Monitor.RestartPending,
		LastError:      st.Monitor.LastError,
		Args:           st.Monitor.Args,
	})
}

func (d *daemon) publishStatus(event, reason string, retained bool) {
	if d.publisher == nil {
		return
	}
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.log.WithError(err).Warnf("failed to publish %s event", event)
		return
	}
	d.log.Debugf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
