package messaging

import (
	"context"
	"sync"
	"time"
)

// Message is one payload received on a topic.
type Message struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Broker is the publish/subscribe transport the service talks to.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe streams messages of topic until ctx is done; the channel is
	// closed afterwards.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Connected() bool
	Close() error
}

// InMemory is a channel-backed broker for dev/testing.
type InMemory struct {
	size int

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	ch   chan Message
	done chan struct{}
}

// NewInMemory creates a broker whose subscribers buffer up to size messages.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{size: size, subs: make(map[string][]*memorySub)}
}

// Publish hands the payload to every current subscriber of topic.
func (b *InMemory) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := Message{Topic: topic, Payload: string(payload), ReceivedAt: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a subscriber that lives until ctx is done.
func (b *InMemory) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	s := &memorySub{ch: make(chan Message, b.size), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(topic, s)
	}()
	return s.ch, nil
}

func (b *InMemory) remove(topic string, s *memorySub) {
	close(s.done)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, cur := range subs {
		if cur == s {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Connected is always true for the in-process broker until it is closed.
func (b *InMemory) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Close drops all subscribers.
func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
