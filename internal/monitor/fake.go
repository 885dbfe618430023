package monitor

import (
	"io"
	"sync"
	"sync/atomic"
)

// FakeLauncher is a test double that hands out FakeProcesses.
type FakeLauncher struct {
	mu       sync.Mutex
	commands []Command
	procs    []*FakeProcess
	failures []error
	nextPid  int

	started chan *FakeProcess
}

// NewFakeLauncher creates a FakeLauncher.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{nextPid: 1000, started: make(chan *FakeProcess, 64)}
}

// FailNext makes the next len(errs) launches return the given errors in
// order. A nil entry lets that launch succeed.
func (l *FakeLauncher) FailNext(errs ...error) {
	l.mu.Lock()
	l.failures = append(l.failures, errs...)
	l.mu.Unlock()
}

// Launch records the command and returns a new FakeProcess or a queued
// failure.
func (l *FakeLauncher) Launch(cmd Command) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.commands = append(l.commands, cmd)
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		if err != nil {
			return nil, err
		}
	}

	l.nextPid++
	p := newFakeProcess(l.nextPid, cmd)
	l.procs = append(l.procs, p)
	l.started <- p
	return p, nil
}

// Commands returns every command passed to Launch, including failed ones.
func (l *FakeLauncher) Commands() []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Command, len(l.commands))
	copy(out, l.commands)
	return out
}

// Processes returns every process started so far.
func (l *FakeLauncher) Processes() []*FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*FakeProcess, len(l.procs))
	copy(out, l.procs)
	return out
}

// Last returns the most recently started process, or nil.
func (l *FakeLauncher) Last() *FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

// Started delivers each process as it is launched.
func (l *FakeLauncher) Started() <-chan *FakeProcess {
	return l.started
}

// FakeProcess is a scripted child process. Output written with WriteStdout
// and WriteStderr is delivered through pipes.
type FakeProcess struct {
	Cmd Command
	pid int

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	exit     chan ExitStatus
	exitOnce sync.Once
	stopped  atomic.Bool
}

func newFakeProcess(pid int, cmd Command) *FakeProcess {
	p := &FakeProcess{Cmd: cmd, pid: pid, exit: make(chan ExitStatus, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *FakeProcess) Pid() int          { return p.pid }
func (p *FakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *FakeProcess) Stderr() io.Reader { return p.stderrR }

// Wait blocks until Exit or Stop is called.
func (p *FakeProcess) Wait() (ExitStatus, error) {
	return <-p.exit, nil
}

// Stop records the request and ends the process as if killed by a signal.
func (p *FakeProcess) Stop() {
	p.stopped.Store(true)
	p.finish(ExitStatus{Code: -1, Signaled: true})
}

// Stopped reports whether Stop was called.
func (p *FakeProcess) Stopped() bool {
	return p.stopped.Load()
}

// WriteStdout writes s to the process stdout. It blocks until read.
func (p *FakeProcess) WriteStdout(s string) error {
	_, err := p.stdoutW.Write([]byte(s))
	return err
}

// WriteStderr writes s to the process stderr. It blocks until read.
func (p *FakeProcess) WriteStderr(s string) error {
	_, err := p.stderrW.Write([]byte(s))
	return err
}

// Exit closes both streams and ends the process with the given code.
func (p *FakeProcess) Exit(code int) {
	p.finish(ExitStatus{Code: code})
}

// Args returns the arguments the process was started with.
func (p *FakeProcess) Args() []string {
	return p.Cmd.Args
}

func (p *FakeProcess) finish(st ExitStatus) {
	p.exitOnce.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		p.exit <- st
	})
}
