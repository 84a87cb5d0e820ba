package ingest

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Locker serializes scheduled discovery runs so overlapping ticks cannot
// double-scan the same mailboxes.
type Locker interface {
	Acquire(ctx context.Context, runID string) (bool, error)
	Release(ctx context.Context, runID string) error
}

const runLockKey = "facturio:ingest:runlock"

// releaseScript deletes the lock only when still held by the releasing run.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker holds the run lock in redis with a TTL so a crashed run can
// never wedge the scheduler.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, runID string) (bool, error) {
	return l.client.SetNX(ctx, runLockKey, runID, l.ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, runID string) error {
	return releaseScript.Run(ctx, l.client, []string{runLockKey}, runID).Err()
}
