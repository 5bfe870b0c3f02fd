package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const syncLockKeyPrefix = "synclock:"

// RedisSyncLockRepository holds a short-lived lock per (user, device)
// so two sync passes cannot drain the same queue concurrently. The TTL
// bounds how long a crashed pass can keep a device locked.
type RedisSyncLockRepository struct {
	client *redis.Client
}

func NewRedisSyncLockRepository(client *redis.Client) *RedisSyncLockRepository {
	return &RedisSyncLockRepository{client: client}
}

func (r *RedisSyncLockRepository) Acquire(ctx context.Context, userID, deviceID uuid.UUID, ttl time.Duration) (bool, error) {
	key := syncLockKey(userID, deviceID)

	ok, err := r.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	return ok, nil
}

func (r *RedisSyncLockRepository) Release(ctx context.Context, userID, deviceID uuid.UUID) error {
	key := syncLockKey(userID, deviceID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

func syncLockKey(userID, deviceID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", syncLockKeyPrefix, userID, deviceID)
}
