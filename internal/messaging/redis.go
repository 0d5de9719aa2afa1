package messaging

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on Redis PUBLISH/SUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker builds a broker on an existing client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends the payload to every subscriber of topic.
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe streams topic messages until ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case m, ok := <-in:
				if !ok {
					return
				}
				msg := Message{Topic: m.Channel, Payload: m.Payload, ReceivedAt: time.Now()}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Connected pings the server.
func (b *RedisBroker) Connected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }
