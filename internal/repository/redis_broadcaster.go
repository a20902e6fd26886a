package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/pkg/logger"
)

// RedisBroadcaster fans events out over a redis pub/sub channel. Delivery is
// at-most-once to currently connected subscribers; durability lives in the
// event store, not here.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
}

// NewRedisBroadcaster creates a broadcaster on the given channel.
func NewRedisBroadcaster(client *redis.Client, channel string, log *logger.Logger) repository.Broadcaster {
	return &RedisBroadcaster{client: client, channel: channel, log: log}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, e *models.SpiritEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of raw event payloads. The channel closes when
// ctx is cancelled or the subscription drops.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := b.client.Subscribe(ctx, b.channel)

	// Force the SUBSCRIBE round trip so a bad connection fails here,
	// not silently in the pump goroutine.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					b.log.Warn("broadcast subscription closed", logger.String("channel", b.channel))
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBroadcaster) Close() error {
	return nil // shared client closed by the app container
}
