package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonnyb9/pagebtn/internal/clock"
	"github.com/sonnyb9/pagebtn/internal/emit"
	"github.com/sonnyb9/pagebtn/internal/loop"
)

const waitFor = 2 * time.Second

var testSettings = Settings{Chip: "gpiochip0", Line: 17, Debounce: 50 * time.Millisecond}

type fixture struct {
	t        *testing.T
	clock    *clock.Fake
	loop     *loop.Loop
	launcher *FakeLauncher
	rec      *emit.Recorder
	sup      *Supervisor
	lines    chan string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		clock:    clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		launcher: NewFakeLauncher(),
		rec:      emit.NewRecorder(),
		lines:    make(chan string, 32),
	}
	f.loop = loop.New(f.clock, 0)
	f.sup = New(Config{
		Executor: f.loop,
		Launcher: f.launcher,
		Settings: testSettings,
		Options:  DefaultOptions(),
		OnLine:   func(line string, _ time.Time) { f.lines <- line },
		Emitter:  f.rec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go f.loop.Run(ctx)
	t.Cleanup(func() {
		f.do(f.sup.Stop)
		cancel()
	})
	return f
}

func (f *fixture) do(fn func()) {
	f.loop.Call(fn)
}

func (f *fixture) stats() Stats {
	var st Stats
	require.True(f.t, f.loop.Call(func() { st = f.sup.Stats() }))
	return st
}

// advance moves the fake clock and waits until any callback it posted has run.
func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
	f.do(func() {})
}

func (f *fixture) nextProcess() *FakeProcess {
	f.t.Helper()
	select {
	case p := <-f.launcher.Started():
		return p
	case <-time.After(waitFor):
		f.t.Fatal("no process launched")
		return nil
	}
}

func (f *fixture) start() *FakeProcess {
	f.do(f.sup.Start)
	return f.nextProcess()
}

func (f *fixture) waitErrors(n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return f.rec.Count(emit.GpioError) >= n }, waitFor, 5*time.Millisecond)
}

func TestBuildArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"--bias=pull-up", "--rising-edge", "--falling-edge", "--debounce=50000us", "gpiochip0", "17"},
		BuildArgs(testSettings, true))
	assert.Equal(t,
		[]string{"--bias=pull-up", "--rising-edge", "--falling-edge", "gpiochip1", "4"},
		BuildArgs(Settings{Chip: "gpiochip1", Line: 4, Debounce: time.Millisecond}, false))
}

func TestIsUnsupportedDebounce(t *testing.T) {
	assert.True(t, IsUnsupportedDebounce("gpiomon: unrecognized option '--debounce=50000us'"))
	assert.True(t, IsUnsupportedDebounce("GPIOMON: UNRECOGNIZED OPTION '--DEBOUNCE'"))
	assert.False(t, IsUnsupportedDebounce("gpiomon: unrecognized option '--bias=pull-up'"))
	assert.False(t, IsUnsupportedDebounce("invalid debounce period"))
}

func TestStartLaunchesViaWrapper(t *testing.T) {
	f := newFixture(t)
	p := f.start()

	assert.Equal(t, "/usr/bin/stdbuf", p.Cmd.Path)
	assert.Equal(t, []string{
		"-oL", "-eL", "gpiomon",
		"--bias=pull-up", "--rising-edge", "--falling-edge", "--debounce=50000us", "gpiochip0", "17",
	}, p.Args())

	st := f.stats()
	assert.True(t, st.Running)
	assert.Equal(t, p.Pid(), st.PID)
	assert.Equal(t, 1, st.Starts)
	assert.True(t, st.DebounceFlag)
	assert.False(t, st.Direct)
}

func TestStdoutLinesDelivered(t *testing.T) {
	f := newFixture(t)
	p := f.start()

	require.NoError(t, p.WriteStdout("event: FALLING EDGE off"))
	require.NoError(t, p.WriteStdout("set: 17\nevent: RISING EDGE offset: 17\n"))

	for _, want := range []string{"event: FALLING EDGE offset: 17", "event: RISING EDGE offset: 17"} {
		select {
		case got := <-f.lines:
			assert.Equal(t, want, got)
		case <-time.After(waitFor):
			t.Fatalf("line %q not delivered", want)
		}
	}
}

func TestStdoutTailDiscardedAtExit(t *testing.T) {
	f := newFixture(t)
	p1 := f.start()

	require.NoError(t, p1.WriteStdout("event: FALLING EDGE offs"))
	p1.Exit(1)
	f.waitErrors(1)
	assert.Equal(t, []string{"gpiomon exited with code 1"}, f.rec.Messages(emit.GpioError))

	f.advance(5 * time.Second)
	p2 := f.nextProcess()

	require.NoError(t, p2.WriteStdout("event: RISING EDGE offset: 17\n"))
	select {
	case got := <-f.lines:
		assert.Equal(t, "event: RISING EDGE offset: 17", got)
	case <-time.After(waitFor):
		t.Fatal("line from restarted process not delivered")
	}
	assert.Empty(t, f.lines)
}

func TestStderrEmitsGpioError(t *testing.T) {
	f := newFixture(t)
	p := f.start()

	require.NoError(t, p.WriteStderr("gpiomon: unable to request line: Device or resource busy\n"))
	f.waitErrors(1)

	assert.Equal(t, []string{"gpiomon: unable to request line: Device or resource busy"}, f.rec.Messages(emit.GpioError))
	assert.False(t, p.Stopped())
}

func TestStderrFlushedAtExit(t *testing.T) {
	f := newFixture(t)
	p := f.start()

	require.NoError(t, p.WriteStderr("no trailing newline"))
	p.Exit(2)
	f.waitErrors(2)

	assert.Equal(t, []string{"no trailing newline", "gpiomon exited with code 2"}, f.rec.Messages(emit.GpioError))
}

func TestUnsupportedDebounceRestartsWithoutFlag(t *testing.T) {
	f := newFixture(t)
	p1 := f.start()

	require.NoError(t, p1.WriteStderr("gpiomon: unrecognized option '--debounce=50000us'\n"))
	require.Eventually(t, p1.Stopped, waitFor, 5*time.Millisecond)

	st := f.stats()
	assert.False(t, st.DebounceFlag)
	assert.True(t, st.RestartPending)
	assert.False(t, st.Running)

	f.advance(249 * time.Millisecond)
	assert.Len(t, f.launcher.Commands(), 1)

	f.advance(time.Millisecond)
	p2 := f.nextProcess()
	assert.NotContains(t, p2.Args(), "--debounce=50000us")
	assert.Equal(t, []string{"-oL", "-eL", "gpiomon", "--bias=pull-up", "--rising-edge", "--falling-edge", "gpiochip0", "17"}, p2.Args())
	assert.Equal(t, 1, f.stats().Restarts)

	// The flag stays off: the same complaint again is only reported.
	require.NoError(t, p2.WriteStderr("gpiomon: unrecognized option '--debounce=50000us'\n"))
	f.waitErrors(2)
	assert.False(t, p2.Stopped())

	f.advance(10 * time.Second)
	assert.Len(t, f.launcher.Commands(), 2)
}

func TestExitDuringDebounceRestartIgnored(t *testing.T) {
	f := newFixture(t)
	p1 := f.start()

	require.NoError(t, p1.WriteStderr("gpiomon: unrecognized option '--debounce=50000us'\n"))
	p1.Exit(1)

	require.Eventually(t, func() bool { return !f.stats().Running }, waitFor, 5*time.Millisecond)
	f.advance(250 * time.Millisecond)
	f.nextProcess()

	f.advance(10 * time.Second)
	assert.Len(t, f.launcher.Commands(), 2)
	assert.Equal(t, []string{"gpiomon: unrecognized option '--debounce=50000us'"}, f.rec.Messages(emit.GpioError))
}

func TestUnexpectedExitRestartsAfterLongDelay(t *testing.T) {
	f := newFixture(t)
	p1 := f.start()

	p1.Exit(1)
	f.waitErrors(1)
	assert.Equal(t, []string{"gpiomon exited with code 1"}, f.rec.Messages(emit.GpioError))

	f.advance(4999 * time.Millisecond)
	assert.Len(t, f.launcher.Commands(), 1)

	f.advance(time.Millisecond)
	p2 := f.nextProcess()
	assert.Contains(t, p2.Args(), "--debounce=50000us")

	st := f.stats()
	assert.Equal(t, 1, st.Restarts)
	assert.Equal(t, 2, st.Starts)
	assert.Equal(t, "gpiomon exited with code 1", st.LastError)
}

func TestCleanExitDoesNotRestart(t *testing.T) {
	f := newFixture(t)
	p := f.start()

	p.Exit(0)
	require.Eventually(t, func() bool { return !f.stats().Running }, waitFor, 5*time.Millisecond)

	f.advance(time.Minute)
	assert.Len(t, f.launcher.Commands(), 1)
	assert.Zero(t, f.rec.Count(emit.GpioError))
}

func TestWrapperMissingFallsBackToDirect(t *testing.T) {
	f := newFixture(t)
	f.launcher.FailNext(fmt.Errorf("%w: /usr/bin/stdbuf", ErrNotFound))

	f.do(f.sup.Start)
	st := f.stats()
	assert.True(t, st.Direct)
	assert.True(t, st.RestartPending)

	f.advance(250 * time.Millisecond)
	p := f.nextProcess()
	assert.Equal(t, "gpiomon", p.Cmd.Path)
	assert.Equal(t, BuildArgs(testSettings, true), p.Args())
	assert.Zero(t, f.rec.Count(emit.GpioError))
}

func TestSpawnErrorRetriesAfterLongDelay(t *testing.T) {
	f := newFixture(t)
	f.launcher.FailNext(errors.New("permission denied"))

	f.do(f.sup.Start)
	f.waitErrors(1)
	assert.Equal(t, []string{"Failed to start gpiomon via stdbuf: permission denied"}, f.rec.Messages(emit.GpioError))

	f.advance(4 * time.Second)
	assert.Len(t, f.launcher.Commands(), 1)

	f.advance(time.Second)
	f.nextProcess()
}

func TestDirectBinaryMissingKeepsRetrying(t *testing.T) {
	f := newFixture(t)
	f.launcher.FailNext(
		fmt.Errorf("%w: /usr/bin/stdbuf", ErrNotFound),
		fmt.Errorf("%w: gpiomon", ErrNotFound),
	)

	f.do(f.sup.Start)
	f.advance(250 * time.Millisecond)
	f.waitErrors(1)
	assert.Equal(t, []string{"Failed to start gpiomon: executable not found: gpiomon"}, f.rec.Messages(emit.GpioError))

	f.advance(5 * time.Second)
	p := f.nextProcess()
	assert.Equal(t, "gpiomon", p.Cmd.Path)
}

func TestStopKillsProcessAndCancelsRestart(t *testing.T) {
	f := newFixture(t)
	p1 := f.start()

	p1.Exit(3)
	f.waitErrors(1)

	f.do(f.sup.Stop)
	f.advance(time.Minute)
	assert.Len(t, f.launcher.Commands(), 1)
	assert.False(t, f.stats().RestartPending)

	f.do(f.sup.Start)
	p2 := f.nextProcess()
	f.do(f.sup.Stop)
	assert.True(t, p2.Stopped())

	f.advance(time.Minute)
	assert.Len(t, f.launcher.Commands(), 2)
	assert.Equal(t, 1, f.rec.Count(emit.GpioError))
}
