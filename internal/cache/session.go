package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound записи сессии нет или она истекла.
var ErrSessionNotFound = errors.New("session not found")

const sessionPrefix = "session:refresh:"

func sessionKey(userID string) string {
	return sessionPrefix + userID
}

// swapScript заменяет токен, только если в кэше лежит ожидаемый.
// Возвращает 1 при замене и 0, если токен уже другой или сессии нет.
var swapScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current or current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// PutSession сохраняет токен обновления пользователя, перезаписывая прежний.
func (c *Cache) PutSession(ctx context.Context, userID, token string, ttl time.Duration) error {
	const op = "cache.PutSession"
	if err := c.Db.Set(ctx, sessionKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSession возвращает текущий токен обновления или ErrSessionNotFound.
func (c *Cache) GetSession(ctx context.Context, userID string) (string, error) {
	const op = "cache.GetSession"
	val, err := c.Db.Get(ctx, sessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return val, nil
}

// RemoveSession удаляет сессию. Отсутствие сессии ошибкой не считается.
func (c *Cache) RemoveSession(ctx context.Context, userID string) error {
	const op = "cache.RemoveSession"
	if err := c.Db.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SwapSession атомарно заменяет old на next. Возвращает false, если в кэше не old:
// из двух конкурентных обновлений одним токеном выигрывает ровно одно.
func (c *Cache) SwapSession(ctx context.Context, userID, old, next string, ttl time.Duration) (bool, error) {
	const op = "cache.SwapSession"
	res, err := swapScript.Run(ctx, c.Db, []string{sessionKey(userID)}, old, next, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return res == 1, nil
}
