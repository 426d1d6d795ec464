package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const digestKeyTTL = 36 * time.Hour

// RedisDeduper keeps one key per tenant and day.
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper connects to the Redis used by the scheduler.
func NewRedisDeduper(redisURL string) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisDeduper{client: redis.NewClient(opts)}, nil
}

func digestKey(tenantID uuid.UUID, day string) string {
	return "calls:reconciliation:digest:" + tenantID.String() + ":" + day
}

func (d *RedisDeduper) Claim(ctx context.Context, tenantID uuid.UUID, day string) (bool, error) {
	return d.client.SetNX(ctx, digestKey(tenantID, day), time.Now().UTC().Format(time.RFC3339), digestKeyTTL).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, tenantID uuid.UUID, day string) error {
	return d.client.Del(ctx, digestKey(tenantID, day)).Err()
}

// Close closes the Redis connection.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}
