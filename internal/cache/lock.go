package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired блокировку не удалось взять за отведённое время.
var ErrLockNotAcquired = errors.New("lock not acquired")

const (
	lockPrefix    = "lock:user:"
	lockRetryStep = 25 * time.Millisecond
)

// unlockScript удаляет ключ, только если им владеет вызывающий.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockUser берёт блокировку пользователя на ttl, ожидая не дольше wait.
// Возвращает функцию освобождения. Переходы подписки одного пользователя
// выполняются строго по одному.
func (c *Cache) LockUser(ctx context.Context, userID string, ttl, wait time.Duration) (func(context.Context) error, error) {
	const op = "cache.LockUser"
	key := lockPrefix + userID
	owner := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := c.Db.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: %w", op, ErrLockNotAcquired)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(lockRetryStep):
		}
	}

	unlock := func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, c.Db, []string{key}, owner).Err(); err != nil {
			return fmt.Errorf("cache.Unlock: %w", err)
		}
		return nil
	}
	return unlock, nil
}
