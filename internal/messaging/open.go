package messaging

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Open builds the broker named by backend: "mqtt", "redis" or "memory".
// rdb is only used by the redis backend.
func Open(backend string, opts MQTTOptions, rdb *redis.Client) (Broker, error) {
	switch backend {
	case "memory":
		return NewInMemory(opts.BufferSize), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis broker: no redis client")
		}
		return NewRedisBroker(rdb), nil
	case "mqtt":
		return NewMQTTBroker(opts)
	}
	return nil, fmt.Errorf("unknown broker backend %q", backend)
}
