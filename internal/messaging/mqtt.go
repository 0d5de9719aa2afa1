package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the MQTT transport.
type MQTTOptions struct {
	BrokerURL      string // e.g. tcp://broker.hivemq.com:1883
	ClientID       string
	ConnectTimeout time.Duration
	BufferSize     int
	Logger         *slog.Logger
}

// MQTTBroker implements Broker on an MQTT connection. Reconnects are left to
// the paho client; topics are re-subscribed on every (re)connect.
type MQTTBroker struct {
	client mqtt.Client
	opts   MQTTOptions
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string][]*mqttSub
}

type mqttSub struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

// deliver never blocks the paho callback; a full buffer drops the message.
func (s *mqttSub) deliver(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *mqttSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// NewMQTTBroker starts connecting to the broker. A broker that is not reachable
// yet is not an error: Connected reports false until the client gets through.
func NewMQTTBroker(opts MQTTOptions) (*MQTTBroker, error) {
	if opts.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt: broker url required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &MQTTBroker{
		opts: opts,
		log:  opts.Logger.With("component", "mqtt", "broker", opts.BrokerURL),
		subs: make(map[string][]*mqttSub),
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn("connection lost", "error", err)
		})
	b.client = mqtt.NewClient(co)

	tok := b.client.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		b.log.Warn("broker not reachable yet, continuing in background")
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}
	return b, nil
}

func (b *MQTTBroker) onConnect(mqtt.Client) {
	b.log.Info("connected")
	b.mu.Lock()
	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	b.mu.Unlock()
	go func() {
		for _, topic := range topics {
			if err := b.subscribe(topic); err != nil {
				b.log.Error("subscribe failed", "topic", topic, "error", err)
			}
		}
	}()
}

func (b *MQTTBroker) subscribe(topic string) error {
	tok := b.client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		b.dispatch(Message{Topic: m.Topic(), Payload: string(m.Payload()), ReceivedAt: time.Now()})
	})
	if !tok.WaitTimeout(b.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt: subscribe %s: timeout", topic)
	}
	if err := tok.Error(); err != nil {
		return err
	}
	b.log.Info("subscribed", "topic", topic)
	return nil
}

func (b *MQTTBroker) dispatch(msg Message) {
	b.mu.Lock()
	subs := append([]*mqttSub(nil), b.subs[msg.Topic]...)
	b.mu.Unlock()
	for _, s := range subs {
		if !s.deliver(msg) {
			b.log.Warn("subscriber buffer full, message dropped", "topic", msg.Topic)
		}
	}
}

// Publish sends payload with QoS 0.
func (b *MQTTBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := b.client.Publish(topic, 0, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber that lives until ctx is done. When the
// connection is down the topic is subscribed on the next connect.
func (b *MQTTBroker) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	s := &mqttSub{ch: make(chan Message, b.opts.BufferSize)}

	b.mu.Lock()
	first := len(b.subs[topic]) == 0
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	if first && b.client.IsConnectionOpen() {
		if err := b.subscribe(topic); err != nil {
			b.remove(topic, s)
			return nil, err
		}
	}

	go func() {
		<-ctx.Done()
		b.remove(topic, s)
	}()
	return s.ch, nil
}

func (b *MQTTBroker) remove(topic string, s *mqttSub) {
	s.close()
	b.mu.Lock()
	subs := b.subs[topic]
	for i, cur := range subs {
		if cur == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = subs
	}
	last := len(subs) == 0
	b.mu.Unlock()

	if last && b.client.IsConnectionOpen() {
		b.client.Unsubscribe(topic)
	}
}

// Connected reports whether the MQTT connection is currently open.
func (b *MQTTBroker) Connected() bool {
	return b.client.IsConnectionOpen()
}

// Close disconnects and ends every subscription.
func (b *MQTTBroker) Close() error {
	b.mu.Lock()
	for topic, subs := range b.subs {
		for _, s := range subs {
			s.close()
		}
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	b.client.Disconnect(250)
	return nil
}
