package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
)

// Locker enforces non-overlapping ticks per group. Implementations return
// (false, nil) rather than an error when the lock is merely held by
// someone else.
type Locker interface {
	TryLock(ctx context.Context, group string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, group string) error
}

// RedisLocker is a Redis SET NX PX advisory lock, externalising the same
// kind of state the throttler externalises so multiple dispatcher
// processes coordinate without a dedicated lock service.
type RedisLocker struct {
	client *redis.Client
	token  string
}

func NewRedisLocker(client *redis.Client, token string) *RedisLocker {
	return &RedisLocker{client: client, token: token}
}

func lockKey(group string) string {
	return fmt.Sprintf("dispatcher:lock:%s", group)
}

func (l *RedisLocker) TryLock(ctx context.Context, group string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(lockKey(group), l.token, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// unlockScript only deletes the key if it still holds our token, so a
// lock this process lost to TTL expiry can't be released out from under
// whoever acquired it next.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

func (l *RedisLocker) Unlock(ctx context.Context, group string) error {
	return l.client.Eval(unlockScript, []string{lockKey(group)}, l.token).Err()
}

// NoopLocker is used in single-process deployments and tests where the
// queue coordinator already guarantees single-consumer-per-group.
type NoopLocker struct{}

func (NoopLocker) TryLock(ctx context.Context, group string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (NoopLocker) Unlock(ctx context.Context, group string) error { return nil }
