package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRedisPrefix = "chatgate:"

// RedisRelay publishes frames through Redis pub/sub and pumps every frame it
// receives back into the local hub, so several processes sharing one Redis see
// the same broadcasts.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	prefix string
	log    zerolog.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, prefix string, log zerolog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRelay{
		client: client,
		hub:    hub,
		prefix: prefix,
		log:    log.With().Str("component", "redis-relay").Logger(),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, topic string, frame []byte) error {
	if err := r.client.Publish(ctx, r.prefix+topic, frame).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Start subscribes to every relayed topic and returns once Redis has
// confirmed the subscription. The pump stops when ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	go r.pump(ctx, pubsub)
	return nil
}

func (r *RedisRelay) pump(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				r.log.Warn().Msg("redis subscription closed")
				return
			}
			topic := strings.TrimPrefix(msg.Channel, r.prefix)
			_ = r.hub.Publish(ctx, topic, []byte(msg.Payload))
		}
	}
}
