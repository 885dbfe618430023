package mqtt

import log "github.com/sirupsen/logrus"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO holding messages while disconnected.
// The oldest message is overwritten when full. Not safe for concurrent use.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // since last drain
	log     *log.Entry
}

func newRingBuffer(capacity int, logger *log.Entry) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = log.WithField("component", "mqtt")
	}
	return &ringBuffer{
		buf: make([]bufferedMsg, capacity),
		log: logger,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	r.buf[r.head] = msg
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
		return
	}
	if r.dropped == 0 {
		r.log.Warnf("buffer full (%d messages), dropping oldest", len(r.buf))
	}
	r.dropped++
}

// drainAll returns buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	if r.dropped > 0 {
		r.log.WithField("dropped", r.dropped).Warn("messages lost while disconnected")
	}

	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}

	r.count = 0
	r.head = 0
	r.dropped = 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
