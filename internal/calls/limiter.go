package calls

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-gateway/pkg/utils"
)

// CallCap bounds concurrent calls per client.
type CallCap interface {
	Acquire(ctx context.Context, clientID string) (bool, error)
	Release(ctx context.Context, clientID string) error
}

// DefaultSlotTTL bounds how long a slot leaked by a crashed process stays taken.
const DefaultSlotTTL = 2 * time.Hour

// RedisCallCap counts active calls per client in Redis so the cap holds
// across gateway instances.
type RedisCallCap struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

// NewRedisCallCap returns nil when limit is not positive; a nil CallCap
// disables the check.
func NewRedisCallCap(rdb redis.Scripter, limit int, ttl time.Duration) *RedisCallCap {
	if rdb == nil || limit <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &RedisCallCap{rdb: rdb, limit: limit, ttl: ttl}
}

func slotKey(clientID string) string {
	return "calls:active:" + clientID
}

func (c *RedisCallCap) Acquire(ctx context.Context, clientID string) (bool, error) {
	res, err := utils.AcquireSlot(ctx, c.rdb, slotKey(clientID), c.limit, c.ttl)
	if err != nil {
		return false, err
	}
	return res.Acquired, nil
}

func (c *RedisCallCap) Release(ctx context.Context, clientID string) error {
	_, err := utils.ReleaseSlot(ctx, c.rdb, slotKey(clientID))
	return err
}
