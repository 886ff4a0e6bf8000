package relay

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "tripshare:trip:"

type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func (m *RedisMirror) Name() string { return "redis" }

func (m *RedisMirror) Mirror(ctx context.Context, room, event string, payload []byte) error {
	return m.client.Publish(ctx, RedisChannel(tripIDFromRoom(room), event), payload).Err()
}

// RedisChannel is tripshare:trip:<id>:<event>.
func RedisChannel(tripID, event string) string {
	return redisPrefix + tripID + ":" + event
}
