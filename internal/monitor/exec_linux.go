//go:build linux

package monitor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a stopped process has between SIGTERM and
// SIGKILL.
const DefaultGracePeriod = 2 * time.Second

// ExecLauncher starts real processes in their own process group so the
// wrapper and gpiomon are terminated together.
type ExecLauncher struct {
	GracePeriod time.Duration
}

// NewExecLauncher creates an ExecLauncher. grace <= 0 selects
// DefaultGracePeriod.
func NewExecLauncher(grace time.Duration) *ExecLauncher {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &ExecLauncher{GracePeriod: grace}
}

// Launch starts cmd. A missing executable is reported as ErrNotFound.
func (l *ExecLauncher) Launch(c Command) (Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, c.Path, err)
		}
		return nil, fmt.Errorf("starting %s: %w", c.Path, err)
	}

	return &execProcess{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		grace:  l.GracePeriod,
		exited: make(chan struct{}),
		kill:   syscall.Kill,
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	grace  time.Duration
	exited chan struct{}
	kill   func(pid int, sig syscall.Signal) error
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (ExitStatus, error) {
	err := p.cmd.Wait()
	close(p.exited)
	if err == nil {
		return ExitStatus{}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitStatus{}, err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signaled: true}, nil
	}
	return ExitStatus{Code: exitErr.ExitCode()}, nil
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL if the
// process is still around after the grace period. Once Wait has reaped the
// child the group id may be reused, so nothing is sent.
func (p *execProcess) Stop() {
	select {
	case <-p.exited:
		return
	default:
	}

	pgid := -p.cmd.Process.Pid
	_ = p.kill(pgid, syscall.SIGTERM)

	go func() {
		select {
		case <-p.exited:
		case <-time.After(p.grace):
			_ = p.kill(pgid, syscall.SIGKILL)
		}
	}()
}
