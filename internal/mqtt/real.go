package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sonnyb9/pagebtn/internal/emit"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 1000 // milliseconds
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Topics     Topics
	Source     Source
	BufferSize int // messages held while disconnected; 0 disables buffering

	// OnConnectionChange is called from paho goroutines when the connection
	// is established or lost.
	OnConnectionChange func(connected bool)
	Logger             *log.Entry
}

// client is the subset of paho.Client the publisher needs.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client  client
	topics  Topics
	timeout time.Duration
	log     *log.Entry

	mu     sync.Mutex
	src    Source
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker. An unreachable
// broker is not fatal: paho keeps retrying in the background and messages are
// buffered until the first connection succeeds.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := newPublisher(nil, o)

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(defaultConnectTimeout)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	will, err := FormatSystemPayload(SystemEvent{Event: EventOffline})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}
	opts.SetBinaryWill(o.Topics.System, will, 1, true)

	opts.SetOnConnectHandler(func(paho.Client) {
		p.log.WithField("broker", o.Broker).Info("connected")
		if o.OnConnectionChange != nil {
			o.OnConnectionChange(true)
		}
		go p.flush()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.WithError(err).Warn("connection lost")
		if o.OnConnectionChange != nil {
			o.OnConnectionChange(false)
		}
	})

	c := paho.NewClient(opts)
	p.client = c

	token := c.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		p.log.WithField("broker", o.Broker).Warn("broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(c client, o Options) *RealPublisher {
	if o.Logger == nil {
		o.Logger = log.WithField("component", "mqtt")
	}
	p := &RealPublisher{
		client:  c,
		topics:  o.Topics,
		timeout: defaultPublishTimeout,
		log:     o.Logger,
		src:     o.Source,
	}
	if o.BufferSize > 0 {
		p.buffer = newRingBuffer(o.BufferSize, o.Logger)
	}
	return p
}

// SetSource changes the chip and line reported in event payloads.
func (p *RealPublisher) SetSource(src Source) {
	p.mu.Lock()
	p.src = src
	p.mu.Unlock()
}

// Publish sends a button event. QoS 0, not retained.
func (p *RealPublisher) Publish(event emit.Event) error {
	p.mu.Lock()
	src := p.src
	p.mu.Unlock()

	payload, err := FormatPayload(event, src)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event. QoS 1 so lifecycle
// transitions are delivered at least once.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buffer == nil {
		return 0
	}
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		defer p.mu.Unlock()
		if p.buffer == nil {
			return ErrNotConnected
		}
		p.buffer.push(msg)
		return nil
	}
	p.mu.Unlock()
	return p.publish(msg)
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages after a (re)connect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	var pending []bufferedMsg
	if p.buffer != nil {
		pending = p.buffer.drainAll()
	}
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	p.log.WithField("count", len(pending)).Info("replaying buffered messages")
	for _, msg := range pending {
		if err := p.publish(msg); err != nil {
			p.log.WithError(err).Warn("replay failed")
		}
	}
}
