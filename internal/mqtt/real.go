package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBufferSize is how many messages are kept while disconnected.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker string

	// ClientID defaults to "relay-scheduler-" plus a random suffix.
	ClientID string

	// BufferSize bounds the offline buffer; 0 means DefaultBufferSize.
	BufferSize int

	// ConnectTimeout is how long NewRealPublisher waits for the first
	// connection before carrying on in the background.
	ConnectTimeout time.Duration
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	log    *zap.Logger

	mu        sync.Mutex
	outbox    *outbox
	connected bool // set after the first successful connect
}

// ClientID returns a client id unique to this process.
func ClientID() string {
	return "relay-scheduler-" + uuid.NewString()[:8]
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// cannot be reached within the connect timeout the publisher is returned
// anyway; it keeps retrying and buffers messages until connected.
func NewRealPublisher(opts Options, log *zap.Logger) (*RealPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ClientID == "" {
		opts.ClientID = ClientID()
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	p := &RealPublisher{
		log:    log,
		outbox: newOutbox(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", zap.Error(err))
		})

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		log.Warn("mqtt broker unreachable, buffering until connected",
			zap.String("broker", opts.Broker), zap.Duration("timeout", opts.ConnectTimeout))
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	log.Info("mqtt connected", zap.String("broker", opts.Broker), zap.String("client_id", opts.ClientID))
	return p, nil
}

func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	pending, dropped := p.outbox.flush()
	p.mu.Unlock()

	// Publishing from inside the handler would block paho's router.
	go func() {
		if reconnect {
			payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
			if err := p.publish(TopicSystem, 1, false, payload); err != nil {
				p.log.Warn("failed to publish reconnect event", zap.Error(err))
			}
		}
		if len(pending) > 0 || dropped > 0 {
			p.log.Info("replaying buffered messages",
				zap.Int("count", len(pending)), zap.Int("dropped", dropped))
		}
		for _, m := range pending {
			if err := p.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
				p.log.Warn("replay failed", zap.String("topic", m.topic), zap.Error(err))
			}
		}
	}()
}

// publish sends or, when offline, buffers one message.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.enqueue(queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *RealPublisher) enqueue(m queuedMsg) {
	p.mu.Lock()
	dropped := p.outbox.add(m)
	n := p.outbox.len()
	p.mu.Unlock()
	if dropped {
		p.log.Warn("mqtt buffer full, dropping oldest", zap.Int("capacity", n))
	}
}

// Publish sends a relay event to the MQTT broker.
func (p *RealPublisher) Publish(event RelayEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1 (at-least-once), not retained
	return p.publish(Topic, 1, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	if err := p.publish(TopicSystem, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// LogPublisher stands in when no broker is configured. It only logs.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log}
}

// Publish logs the relay event.
func (p *LogPublisher) Publish(event RelayEvent) error {
	p.log.Info("relay event",
		zap.String("event", string(event.Type)),
		zap.Uint("relay", event.RelayID),
		zap.Uint("alarm", event.AlarmID),
		zap.String("state", stateString(event.State)))
	return nil
}

// PublishSystem logs the system event.
func (p *LogPublisher) PublishSystem(event SystemEvent) error {
	p.log.Info("system event", zap.String("event", event.Event), zap.String("reason", event.Reason))
	return nil
}

// IsConnected always reports false.
func (p *LogPublisher) IsConnected() bool {
	return false
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
