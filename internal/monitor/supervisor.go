package monitor

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sonnyb9/pagebtn/internal/clock"
	"github.com/sonnyb9/pagebtn/internal/emit"
	"github.com/sonnyb9/pagebtn/internal/linereader"
)

const readBufferSize = 4096

// Executor runs closures one at a time and schedules timers whose callbacks
// run the same way. *loop.Loop satisfies it.
type Executor interface {
	Post(f func()) bool
	AfterFunc(d time.Duration, f func()) clock.Timer
	Now() time.Time
}

// Options controls how gpiomon is launched and retried.
type Options struct {
	Wrapper     string   // line-buffering wrapper; empty launches Binary directly
	WrapperArgs []string // arguments placed before Binary
	Binary      string

	ShortRetry time.Duration // restart after dropping an unsupported flag or a missing wrapper
	LongRetry  time.Duration // restart after an unexpected exit or spawn failure

	MaxPending int // line reader guard, see linereader.New
}

// DefaultOptions returns the standard stdbuf + gpiomon invocation.
func DefaultOptions() Options {
	return Options{
		Wrapper:     "/usr/bin/stdbuf",
		WrapperArgs: []string{"-oL", "-eL"},
		Binary:      "gpiomon",
		ShortRetry:  250 * time.Millisecond,
		LongRetry:   5 * time.Second,
	}
}

// Settings identifies the monitored line.
type Settings struct {
	Chip     string
	Line     uint
	Debounce time.Duration
}

// BuildArgs returns the gpiomon arguments for s. The debounce flag is
// included only when withDebounce is set.
func BuildArgs(s Settings, withDebounce bool) []string {
	args := []string{"--bias=pull-up", "--rising-edge", "--falling-edge"}
	if withDebounce {
		args = append(args, fmt.Sprintf("--debounce=%dus", s.Debounce.Microseconds()))
	}
	return append(args, s.Chip, strconv.FormatUint(uint64(s.Line), 10))
}

// IsUnsupportedDebounce reports whether a stderr line says the debounce
// option is unknown to this gpiomon.
func IsUnsupportedDebounce(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "unrecognized option") && strings.Contains(l, "debounce")
}

// Config wires a Supervisor.
type Config struct {
	Executor Executor
	Launcher Launcher
	Settings Settings
	Options  Options

	// OnLine receives every non-empty stdout line with its arrival time.
	OnLine func(line string, at time.Time)

	Emitter emit.Emitter
	Debugf  func(format string, args ...any)
	Logger  *log.Entry
}

// Stats is a read-only view of the supervisor state.
type Stats struct {
	Running        bool
	PID            int
	Starts         int
	Restarts       int
	DebounceFlag   bool
	Direct         bool
	RestartPending bool
	LastError      string
	LastStart      time.Time
	Args           []string
	DroppedLines   int
}

// Supervisor keeps one gpiomon running. All methods, and all callbacks it
// schedules, must run on the Executor.
type Supervisor struct {
	exec     Executor
	launcher Launcher
	settings Settings
	opts     Options
	onLine   func(string, time.Time)
	out      emit.Emitter
	debugf   func(string, ...any)
	log      *log.Entry

	proc   Process
	gen    uint64
	stdout *linereader.Reader
	stderr *linereader.Reader

	useDebounce     bool
	direct          bool
	restartInFlight bool
	stopped         bool

	restartTimer clock.Timer
	restartSeq   uint64

	starts    int
	restarts  int
	lastErr   string
	lastStart time.Time
	dropped   int
}

// New creates a stopped Supervisor.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		exec:        cfg.Executor,
		launcher:    cfg.Launcher,
		settings:    cfg.Settings,
		opts:        cfg.Options,
		onLine:      cfg.OnLine,
		out:         cfg.Emitter,
		debugf:      cfg.Debugf,
		log:         cfg.Logger,
		useDebounce: true,
		stopped:     true,
	}
	if s.onLine == nil {
		s.onLine = func(string, time.Time) {}
	}
	if s.out == nil {
		s.out = emit.Discard
	}
	if s.debugf == nil {
		s.debugf = func(string, ...any) {}
	}
	if s.log == nil {
		s.log = log.NewEntry(log.StandardLogger())
	}
	if s.opts.Binary == "" {
		s.opts.Binary = "gpiomon"
	}
	return s
}

// Start launches gpiomon.
func (s *Supervisor) Start() {
	s.stopped = false
	s.start()
}

// Stop terminates gpiomon and cancels any pending restart. Output and exit
// notifications from the stopped instance are discarded.
func (s *Supervisor) Stop() {
	s.stopped = true
	s.cancelRestart()
	s.restartInFlight = false
	s.kill()
	s.gen++
}

// Args returns the gpiomon arguments the next launch will use.
func (s *Supervisor) Args() []string {
	return BuildArgs(s.settings, s.useDebounce)
}

// Stats returns a copy of the supervisor state.
func (s *Supervisor) Stats() Stats {
	st := Stats{
		Running:        s.proc != nil,
		Starts:         s.starts,
		Restarts:       s.restarts,
		DebounceFlag:   s.useDebounce,
		Direct:         s.direct,
		RestartPending: s.restartTimer != nil,
		LastError:      s.lastErr,
		LastStart:      s.lastStart,
		Args:           s.Args(),
		DroppedLines:   s.dropped,
	}
	if s.proc != nil {
		st.PID = s.proc.Pid()
	}
	return st
}

func (s *Supervisor) command(args []string) Command {
	if s.direct || s.opts.Wrapper == "" {
		return Command{Path: s.opts.Binary, Args: args}
	}
	full := make([]string, 0, len(s.opts.WrapperArgs)+1+len(args))
	full = append(full, s.opts.WrapperArgs...)
	full = append(full, s.opts.Binary)
	full = append(full, args...)
	return Command{Path: s.opts.Wrapper, Args: full}
}

func (s *Supervisor) viaWrapper() bool {
	return !s.direct && s.opts.Wrapper != ""
}

func (s *Supervisor) start() {
	if s.stopped {
		return
	}

	args := s.Args()
	if s.viaWrapper() {
		s.debugf("Starting gpiomon with args: %s (via %s)", strings.Join(args, " "), s.opts.Wrapper)
	} else {
		s.debugf("Starting gpiomon with args: %s", strings.Join(args, " "))
	}

	// Lines never span two instances.
	s.stdout = linereader.New(s.opts.MaxPending)
	s.stderr = linereader.New(s.opts.MaxPending)

	proc, err := s.launcher.Launch(s.command(args))
	if err != nil {
		s.handleLaunchError(err)
		return
	}

	s.gen++
	s.proc = proc
	s.starts++
	s.lastStart = s.exec.Now()
	s.log.WithFields(log.Fields{"pid": proc.Pid(), "args": strings.Join(args, " ")}).Info("gpiomon started")

	gen := s.gen
	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(gen, proc.Stdout(), s.handleStdout, &pumps)
	go s.pump(gen, proc.Stderr(), s.handleStderr, &pumps)
	go func() {
		pumps.Wait()
		status, err := proc.Wait()
		s.exec.Post(func() { s.handleExit(gen, status, err) })
	}()
}

func (s *Supervisor) handleLaunchError(err error) {
	if s.viaWrapper() && errors.Is(err, ErrNotFound) {
		s.direct = true
		s.log.WithError(err).Warnf("%s not available, launching %s directly", s.opts.Wrapper, s.opts.Binary)
		s.debugf("%s not found; starting gpiomon without it", s.opts.Wrapper)
		s.scheduleRestart(s.opts.ShortRetry)
		return
	}

	var msg string
	if s.viaWrapper() {
		msg = fmt.Sprintf("Failed to start gpiomon via %s: %v", wrapperName(s.opts.Wrapper), err)
	} else {
		msg = fmt.Sprintf("Failed to start gpiomon: %v", err)
	}
	s.lastErr = msg
	s.emitError(msg)
	s.scheduleRestart(s.opts.LongRetry)
}

// pump copies a stream onto the executor. A nil chunk marks EOF.
func (s *Supervisor) pump(gen uint64, r io.Reader, handle func([]byte, time.Time), done *sync.WaitGroup) {
	defer done.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			at := s.exec.Now()
			if !s.exec.Post(func() {
				if gen == s.gen {
					handle(chunk, at)
				}
			}) {
				return
			}
		}
		if err != nil {
			s.exec.Post(func() {
				if gen == s.gen {
					handle(nil, s.exec.Now())
				}
			})
			return
		}
	}
}

// handleStdout feeds edge records to the state machine. An unterminated tail
// left at EOF is a cut-off record and never reaches it.
func (s *Supervisor) handleStdout(chunk []byte, at time.Time) {
	if chunk == nil {
		if s.stdout.Pending() > 0 {
			s.log.Debug("discarding unterminated gpiomon output at exit")
		}
		s.stdout.Reset()
		return
	}
	for _, line := range s.readLines(s.stdout, chunk) {
		s.onLine(line, at)
	}
}

func (s *Supervisor) handleStderr(chunk []byte, _ time.Time) {
	var lines []string
	if chunk == nil {
		if line, ok := s.stderr.Flush(); ok {
			lines = []string{line}
		}
	} else {
		lines = s.readLines(s.stderr, chunk)
	}

	for _, line := range lines {
		s.lastErr = line
		s.emitError(line)
		if s.useDebounce && !s.restartInFlight && IsUnsupportedDebounce(line) {
			s.dropDebounceFlag()
		}
	}
}

func (s *Supervisor) readLines(r *linereader.Reader, chunk []byte) []string {
	before := r.Dropped()
	lines := r.Feed(chunk)
	if d := r.Dropped() - before; d > 0 {
		s.dropped += d
		s.log.Warnf("discarded %d oversized gpiomon output line(s)", d)
	}
	return lines
}

// dropDebounceFlag disables --debounce for the rest of this supervisor's
// life and relaunches without it.
func (s *Supervisor) dropDebounceFlag() {
	s.useDebounce = false
	s.restartInFlight = true
	s.log.Warn("gpiomon does not support --debounce, restarting without it")
	s.debugf("gpiomon does not support --debounce; restarting without debounce.")
	s.kill()
	s.scheduleRestart(s.opts.ShortRetry)
}

func (s *Supervisor) handleExit(gen uint64, status ExitStatus, err error) {
	if gen != s.gen {
		return
	}
	s.proc = nil

	if err != nil {
		s.debugf("gpiomon wait failed: %v", err)
	} else if status.Signaled {
		s.debugf("gpiomon terminated by signal")
	} else {
		s.debugf("gpiomon exited with code %d", status.Code)
	}

	if s.restartInFlight || s.stopped {
		return
	}

	var msg string
	switch {
	case err != nil:
		msg = fmt.Sprintf("gpiomon wait failed: %v", err)
	case !status.Signaled && status.Code != 0:
		msg = fmt.Sprintf("gpiomon exited with code %d", status.Code)
	default:
		s.log.Info("gpiomon ended")
		return
	}
	s.lastErr = msg
	s.emitError(msg)
	s.scheduleRestart(s.opts.LongRetry)
}

func (s *Supervisor) scheduleRestart(d time.Duration) {
	s.cancelRestart()
	seq := s.restartSeq
	s.restartTimer = s.exec.AfterFunc(d, func() {
		if seq != s.restartSeq {
			return
		}
		s.restartTimer = nil
		s.restartInFlight = false
		s.restarts++
		s.start()
	})
}

func (s *Supervisor) cancelRestart() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartSeq++
}

func (s *Supervisor) kill() {
	if s.proc == nil {
		return
	}
	s.proc.Stop()
	s.proc = nil
}

func (s *Supervisor) emitError(msg string) {
	s.out.Emit(emit.Event{Kind: emit.GpioError, Timestamp: s.exec.Now(), Message: msg})
}

func wrapperName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
