package feed

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisChannel = "posledger:feed"

// RedisBridge fans events out through Redis pub/sub so every server instance
// refreshes its own subscribers.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger
}

func NewRedisBridge(client *redis.Client, hub *Hub, logger zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		client: client,
		hub:    hub,
		logger: logger.With().Str("component", "feed-redis").Logger(),
	}
}

// Publish sends the event to Redis. If Redis is unreachable the local hub is
// still woken so this instance stays current.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = b.client.Publish(ctx, redisChannel, payload).Err()
	}
	if err != nil {
		b.logger.Warn().Err(err).Str("collection", ev.Collection).Msg("redis publish failed, notifying local subscribers only")
		b.hub.Publish(ctx, ev)
	}
}

// Run relays Redis messages into the local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, redisChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Error().Err(err).Msg("dropping malformed feed event")
				continue
			}
			b.hub.Publish(ctx, ev)
		}
	}
}
