package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a Redis Pub/Sub channel so dashboards in
// other processes can follow a register.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = "cafepos:events"
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Channel() string {
	return s.channel
}

func (s *RedisSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}
