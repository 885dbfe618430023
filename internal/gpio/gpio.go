// Package gpio reads the current level of the button line through the Linux
// GPIO character device. Edge detection is done by gpiomon; this package is
// only used to report the line state (print-state and the startup probe).
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// Reader reads the button line.
type Reader interface {
	// Read returns whether the button is pressed. The line is pulled up, so
	// raw low (0) means pressed.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Level names the logical button state.
func Level(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}

// ReadOnce reads the line a single time and releases it. The line must not
// be held while gpiomon runs, or gpiomon fails with "device busy".
func ReadOnce(r Reader) (pressed bool, err error) {
	defer func() {
		if cerr := r.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("release line: %w", cerr))
		}
	}()
	return r.Read()
}
