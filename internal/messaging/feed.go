package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// RecentLimit is how many messages a Feed keeps per topic.
const RecentLimit = 10

// Feed owns the subscription to one topic: it remembers the most recent
// messages (newest first) and hands every message to a handler, one at a time.
type Feed struct {
	broker Broker
	topic  string
	log    *slog.Logger

	mu     sync.RWMutex
	recent []Message
}

// NewFeed wraps broker for topic.
func NewFeed(broker Broker, topic string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		broker: broker,
		topic:  topic,
		log:    logger.With("component", "feed", "topic", topic),
	}
}

// Topic returns the subscribed topic.
func (f *Feed) Topic() string { return f.topic }

// Run subscribes and dispatches messages to handle until ctx is done. handle
// may be nil when only the recent buffer is wanted.
func (f *Feed) Run(ctx context.Context, handle func(context.Context, Message)) error {
	messages, err := f.broker.Subscribe(ctx, f.topic)
	if err != nil {
		return err
	}
	f.log.Info("feed started")
	for msg := range messages {
		f.remember(msg)
		if handle != nil {
			handle(ctx, msg)
		}
	}
	f.log.Info("feed stopped")
	return nil
}

func (f *Feed) remember(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := make([]Message, 0, RecentLimit)
	next = append(next, msg)
	for _, m := range f.recent {
		if len(next) == RecentLimit {
			break
		}
		next = append(next, m)
	}
	f.recent = next
}

// Recent returns up to RecentLimit messages, newest first.
func (f *Feed) Recent() []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Message{}, f.recent...)
}

// Connected reports the transport connection state.
func (f *Feed) Connected() bool { return f.broker.Connected() }

// Publish sends payload on the feed's topic.
func (f *Feed) Publish(ctx context.Context, payload []byte) error {
	return f.broker.Publish(ctx, f.topic, payload)
}
