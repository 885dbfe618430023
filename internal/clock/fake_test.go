package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []string

	c.AfterFunc(300*time.Millisecond, func() { order = append(order, "c") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })

	c.Advance(250 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, epoch.Add(250*time.Millisecond), c.Now())
	assert.Equal(t, 1, c.Pending())

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeNowDuringCallbackIsDeadline(t *testing.T) {
	c := NewFake(epoch)
	var seen time.Time
	c.AfterFunc(time.Second, func() { seen = c.Now() })

	c.Advance(5 * time.Second)
	assert.Equal(t, epoch.Add(time.Second), seen)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
}

func TestFakeStop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeStopAfterFire(t *testing.T) {
	c := NewFake(epoch)
	tm := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, tm.Stop())
}

func TestFakeTimerRegisteredFromCallback(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	c.AfterFunc(100*time.Millisecond, func() {
		count++
		c.AfterFunc(100*time.Millisecond, func() { count++ })
	})

	c.Advance(time.Second)
	assert.Equal(t, 2, count)
}

func TestFakeSetBackwardsIgnored(t *testing.T) {
	c := NewFake(epoch)
	c.Set(epoch.Add(-time.Hour))
	assert.Equal(t, epoch, c.Now())

	c.Set(epoch.Add(time.Minute))
	assert.Equal(t, epoch.Add(time.Minute), c.Now())
}
