package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker is a best-effort advisory lock around a release run. It only avoids
// redundant work when two triggers fire close together; correctness never
// depends on it. Acquire hands back a token identifying this hold; Release
// frees the lock only when that token still owns it. One Locker instance is
// shared between the ticker and the HTTP trigger, so the token must travel
// with the run, not live on the locker.
type Locker interface {
	Acquire(ctx context.Context) (token string, acquired bool, err error)
	Release(ctx context.Context, token string)
}

const lockKey = "escrow:release:lock"

// RedisLocker implements Locker on a single Redis key. It keeps no per-run
// state, so concurrent runs through the same instance are safe.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker builds a locker whose hold expires after ttl even if the
// holder crashes.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire attempts to take the lock.
func (l *RedisLocker) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lock if token still holds it. A hold that expired and was
// re-acquired by another run is left untouched.
func (l *RedisLocker) Release(ctx context.Context, token string) {
	if token == "" {
		return
	}
	current, err := l.client.Get(ctx, lockKey).Result()
	if err == nil && current == token {
		l.client.Del(ctx, lockKey)
	}
}
