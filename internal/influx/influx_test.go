package influx

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonnyb9/pagebtn/internal/emit"
)

var (
	src = Source{Chip: "gpiochip0", Line: 17}
	at  = time.Unix(1700000000, 0)
)

func lineProtocol(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestEventPointGesture(t *testing.T) {
	p := EventPoint(emit.Event{Kind: emit.ShortPress, Timestamp: at, Held: 120 * time.Millisecond}, src)
	require.NotNil(t, p)
	assert.Equal(t, "button_gesture,chip=gpiochip0,kind=SHORT_PRESS,line=17 held_ms=120i 1700000000000000000", lineProtocol(p))

	p = EventPoint(emit.Event{Kind: emit.LongPress, Timestamp: at, Held: time.Second}, src)
	require.NotNil(t, p)
	assert.Equal(t, "button_gesture,chip=gpiochip0,kind=LONG_PRESS,line=17 held_ms=1000i 1700000000000000000", lineProtocol(p))
}

func TestEventPointError(t *testing.T) {
	p := EventPoint(emit.Event{Kind: emit.GpioError, Timestamp: at, Message: "gpiomon exited with code 1"}, src)
	require.NotNil(t, p)
	assert.Equal(t, MeasurementError, p.Name())
	assert.Equal(t, `monitor_error,chip=gpiochip0,line=17 message="gpiomon exited with code 1" 1700000000000000000`, lineProtocol(p))
}

func TestEventPointSkipsDebug(t *testing.T) {
	assert.Nil(t, EventPoint(emit.Event{Kind: emit.Debug, Timestamp: at, Message: "GPIO event: falling"}, src))
}

func TestConnectDisabled(t *testing.T) {
	r, err := Connect(Config{Enabled: false}, src, nil)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrDisabled)
}
