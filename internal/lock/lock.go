// Package lock provides the Redis-backed distributed leader lock that
// guards the cron scan loop in C7: only the node holding "orchestrator:
// leader" runs scanSchedules on a given tick, so a multi-node fleet never
// double-fires a recurring ProcessRecord.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLocker provides distributed locking using Redis.
type DistributedLocker struct {
	client   *redis.Client
	ownerID  string
}

// NewDistributedLocker creates a new distributed locker scoped to ownerID
// (typically a per-process worker identity).
func NewDistributedLocker(client *redis.Client, ownerID string) *DistributedLocker {
	return &DistributedLocker{
		client:  client,
		ownerID: ownerID,
	}
}

// AcquireLock attempts to acquire a lock with the given key.
func (l *DistributedLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := fmt.Sprintf("lock:%s", key)

	result, err := l.client.SetNX(ctx, lockKey, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return result, nil
}

// ReleaseLock releases a lock if held by this owner.
func (l *DistributedLocker) ReleaseLock(ctx context.Context, key string) error {
	lockKey := fmt.Sprintf("lock:%s", key)

	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	_, err := script.Run(ctx, l.client, []string{lockKey}, l.ownerID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}

// RefreshLock extends the TTL of a held lock.
func (l *DistributedLocker) RefreshLock(ctx context.Context, key string, ttl time.Duration) error {
	lockKey := fmt.Sprintf("lock:%s", key)

	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	_, err := script.Run(ctx, l.client, []string{lockKey}, l.ownerID, ttl.Milliseconds()).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}

	return nil
}
