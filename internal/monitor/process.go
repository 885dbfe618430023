// Package monitor supervises the external edge monitor (gpiomon). It starts
// the process, turns its output into lines, and restarts it when it fails,
// adapting the command line when the installed gpiomon lacks a flag.
package monitor

import (
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned by a Launcher when the executable does not exist.
var ErrNotFound = errors.New("executable not found")

// ErrUnsupported is returned by launchers on platforms without process
// groups.
var ErrUnsupported = errors.New("monitor: process launching not supported on this platform")

// Command is a program and its arguments.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int  // -1 when Signaled
	Signaled bool // terminated by a signal rather than exiting
}

// Process is a running child.
type Process interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process has exited. It is called once, after
	// Stdout and Stderr have reached EOF.
	Wait() (ExitStatus, error)

	// Stop asks the process to terminate. It does not block.
	Stop()
}

// Launcher starts processes.
type Launcher interface {
	Launch(cmd Command) (Process, error)
}
