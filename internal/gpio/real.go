//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the button line from the GPIO character device.
type RealReader struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealReader requests line on chip as an input with pull-up bias,
// matching the bias gpiomon is started with.
func NewRealReader(chip string, line uint) (*RealReader, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	l, err := c.RequestLine(int(line), gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer("pagebtn"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request line %d: %w", line, err)
	}

	return &RealReader{chip: c, line: l}, nil
}

// Read returns true when the line is low.
func (r *RealReader) Read() (bool, error) {
	raw, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line: %w", err)
	}
	return raw == 0, nil
}

// Close releases the line, leaving it an input with pull-up so the button
// does not float between gpiomon restarts.
func (r *RealReader) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
