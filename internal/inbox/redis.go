package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper keeps handled message IDs in Redis so they survive restarts.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// ErrInvalidTTL is returned for a non-positive retention; Redis would keep
// such keys forever.
var ErrInvalidTTL = errors.New("dedupe ttl must be positive")

// NewRedisDeduper connects to redisURL and verifies the connection.
func NewRedisDeduper(ctx context.Context, redisURL string, ttl time.Duration) (*RedisDeduper, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisDeduper{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// Ping checks the Redis connection.
func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// handledKey returns the key marking a message as handled.
func handledKey(messageID string) string {
	return fmt.Sprintf("inbox:handled:%s", messageID)
}

// Seen implements Deduper.
func (d *RedisDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := d.client.Exists(ctx, handledKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark implements Deduper.
func (d *RedisDeduper) Mark(ctx context.Context, messageID string) error {
	return d.client.Set(ctx, handledKey(messageID), "1", d.ttl).Err()
}
