// Package influx records button gestures and gpiomon errors as an InfluxDB
// time series.
package influx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"

	"github.com/sonnyb9/pagebtn/internal/emit"
)

// Measurements written by the recorder.
const (
	MeasurementGesture = "button_gesture"
	MeasurementError   = "monitor_error"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = 10 * time.Second
)

var (
	// ErrDisabled is returned by Connect when InfluxDB is not enabled.
	ErrDisabled = errors.New("influxdb disabled")
	// ErrConnectionFailed wraps ping failures.
	ErrConnectionFailed = errors.New("influxdb connection failed")
)

// Config contains the connection settings.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

// Source identifies the button, written as tags on every point.
type Source struct {
	Chip string
	Line uint
}

// Recorder writes event points through the non-blocking write API.
// All methods are safe for concurrent use.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *log.Entry

	mu     sync.RWMutex
	src    Source
	closed bool
}

// Connect creates the client, checks the server is healthy and starts
// forwarding async write errors to the log.
func Connect(cfg Config, src Source, logger *log.Entry) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = log.WithField("component", "influx")
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      logger,
		src:      src,
	}
	go r.handleWriteErrors(r.writeAPI.Errors())
	return r, nil
}

func (r *Recorder) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		r.log.WithError(err).Warn("write failed")
	}
}

// SetSource changes the chip and line tags, e.g. after a reload.
func (r *Recorder) SetSource(src Source) {
	r.mu.Lock()
	r.src = src
	r.mu.Unlock()
}

// Record queues a point for ev. Debug events are not recorded.
func (r *Recorder) Record(ev emit.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	if p := EventPoint(ev, r.src); p != nil {
		r.writeAPI.WritePoint(p)
	}
}

// Flush forces pending points to be written.
func (r *Recorder) Flush() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.closed {
		r.writeAPI.Flush()
	}
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.writeAPI.Flush()
	r.client.Close()
	return nil
}

// EventPoint converts ev to a point, or returns nil for events that are not
// recorded.
func EventPoint(ev emit.Event, src Source) *write.Point {
	tags := map[string]string{
		"chip": src.Chip,
		"line": strconv.FormatUint(uint64(src.Line), 10),
	}

	switch {
	case ev.Kind.IsGesture():
		tags["kind"] = string(ev.Kind)
		return write.NewPoint(MeasurementGesture, tags,
			map[string]interface{}{"held_ms": ev.Held.Milliseconds()},
			ev.Timestamp)
	case ev.Kind == emit.GpioError:
		return write.NewPoint(MeasurementError, tags,
			map[string]interface{}{"message": ev.Message},
			ev.Timestamp)
	}
	return nil
}
