package gpio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeReaderRead(t *testing.T) {
	f := NewFakeReader(true, false)

	for _, want := range []bool{true, false, false} {
		got, err := f.Read()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFakeReaderNoSamples(t *testing.T) {
	_, err := NewFakeReader().Read()
	assert.Error(t, err)
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader(true)
	f.ReadError = errors.New("simulated error")

	_, err := f.Read()
	assert.EqualError(t, err, "simulated error")
}

func TestReadOnceReleasesLine(t *testing.T) {
	f := NewFakeReader(true)

	pressed, err := ReadOnce(f)
	require.NoError(t, err)
	assert.True(t, pressed)
	assert.True(t, f.Closed)
}

func TestReadOnceJoinsErrors(t *testing.T) {
	readErr := errors.New("read failed")
	closeErr := errors.New("close failed")
	f := NewFakeReader(false)
	f.ReadError = readErr
	f.CloseError = closeErr

	_, err := ReadOnce(f)
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
	assert.ErrorIs(t, err, closeErr)
	assert.True(t, f.Closed)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "PRESSED", Level(true))
	assert.Equal(t, "RELEASED", Level(false))
}
