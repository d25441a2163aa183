package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisSink republishes ledger events on a Redis pub/sub channel for
// listeners outside this process. The ledger remains the source of truth;
// a subscriber that misses messages replays from GET /v1/events.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSinkFromClient(client, channel), nil
}

func NewRedisSinkFromClient(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Handle publishes ev. It has the Handler signature so it can be passed to
// Feed.Subscribe directly.
func (s *RedisSink) Handle(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish seq %d: %w", ev.Seq, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
