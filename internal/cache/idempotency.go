package cache

import (
	"context"
	"fmt"
	"time"
)

const eventPrefix = "webhook:event:"

// ClaimEvent ставит метку обработки события одной командой SET NX.
// true означает, что событие встречено впервые и его нужно обработать.
func (c *Cache) ClaimEvent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const op = "cache.ClaimEvent"
	ok, err := c.Db.SetNX(ctx, eventPrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// ReleaseEvent снимает метку, чтобы повторная доставка шлюзом была обработана.
func (c *Cache) ReleaseEvent(ctx context.Context, key string) error {
	const op = "cache.ReleaseEvent"
	if err := c.Db.Del(ctx, eventPrefix+key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
