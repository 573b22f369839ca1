// Package cache wraps the instance's Redis connection: rate limit buckets,
// presence bookkeeping, pending codes and the events pub/sub channel all
// live here.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/eludris/eludris/internal/models"
)

// EventsChannel is the pub/sub channel carrying instance events.
const EventsChannel = "eludris-events"

// Open connects a Redis client and verifies connectivity.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("redis client connected")

	return client, nil
}

// PublishEvent puts a tagged payload on the events channel. Delivery is
// best-effort; an error means the event was lost.
func PublishEvent(ctx context.Context, client *redis.Client, payload models.Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := client.Publish(ctx, EventsChannel, raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// SubscribeEvents subscribes to the events channel.
func SubscribeEvents(ctx context.Context, client *redis.Client) *redis.PubSub {
	return client.Subscribe(ctx, EventsChannel)
}
