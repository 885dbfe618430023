//go:build !linux

package monitor

import "time"

// DefaultGracePeriod is how long a stopped process has between SIGTERM and
// SIGKILL.
const DefaultGracePeriod = 2 * time.Second

// ExecLauncher is not available on non-Linux platforms.
type ExecLauncher struct {
	GracePeriod time.Duration
}

// NewExecLauncher returns a launcher that always fails.
func NewExecLauncher(grace time.Duration) *ExecLauncher {
	return &ExecLauncher{GracePeriod: grace}
}

// Launch returns ErrUnsupported.
func (l *ExecLauncher) Launch(Command) (Process, error) {
	return nil, ErrUnsupported
}
