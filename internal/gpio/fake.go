package gpio

import "errors"

// FakeReader is a test double that returns scripted line levels.
type FakeReader struct {
	// Samples are logical pressed states. Each Read consumes the next one;
	// the last sample repeats once they are exhausted.
	Samples []bool

	index int

	Closed bool

	// ReadError, if set, is returned by Read.
	ReadError error
	// CloseError, if set, is returned by Close.
	CloseError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...bool) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeReader) Read() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	pressed := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return pressed, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return f.CloseError
}
