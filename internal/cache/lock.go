package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fanvault/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RetentionLockKey guards retention cleanup across replicas.
const RetentionLockKey = "retention:cleanup:lock"

// Deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-key SET NX PX lock.
type RedisLock struct {
	rdb *redis.Client
	key string
}

func NewRedisLock(rdb *redis.Client, key string) *RedisLock {
	return &RedisLock{rdb: rdb, key: key}
}

// TryLock acquires the lock for ttl. ok is false when someone else holds it.
func (l *RedisLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	ctx, span := observability.TraceRedisOperation(ctx, "lock.acquire")
	defer span.End()

	token := uuid.NewString()
	acquired, err := l.rdb.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			slog.Warn("failed to release redis lock", "key", l.key, "err", err)
		}
	}
	return unlock, true, nil
}
