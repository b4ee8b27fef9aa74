package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the client settings the call-slot counters need. Zero
// values fall back to short timeouts; slot checks sit on the INVITE path.
type RedisConfig struct {
	Addr     string
	PoolSize int
	// Timeout applies to dial, read and write.
	Timeout     time.Duration
	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	return c
}

// OpenRedis connects and pings. The caller owns Close.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Call slots are per-key counters with a TTL. Acquire returns {acquired, active}
// so callers can log how loaded the key is; a rejected acquire leaves the
// counter unchanged.
var slotAcquireScript = redis.NewScript(`
local active = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if active > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return {0, active - 1}
end
return {1, active}
`)

var slotReleaseScript = redis.NewScript(`
local active = redis.call('DECR', KEYS[1])
if active <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
return active
`)

// SlotResult reports one acquire attempt.
type SlotResult struct {
	Acquired bool
	// Active is the number of held slots after the attempt.
	Active int64
}

var (
	errNilRedis   = errors.New("redis client is nil")
	errEmptyKey   = errors.New("slot key is required")
	errSlotLimits = errors.New("slot limit and ttl must be positive")
)

// AcquireSlot takes one slot under key if fewer than limit are held. The TTL
// bounds how long a slot leaked by a crashed gateway stays taken.
func AcquireSlot(ctx context.Context, rdb redis.Scripter, key string, limit int, ttl time.Duration) (SlotResult, error) {
	switch {
	case rdb == nil:
		return SlotResult{}, errNilRedis
	case key == "":
		return SlotResult{}, errEmptyKey
	case limit <= 0 || ttl <= 0:
		return SlotResult{}, errSlotLimits
	}

	vals, err := slotAcquireScript.Run(ctx, rdb, []string{key}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return SlotResult{}, fmt.Errorf("acquire slot %s: %w", key, err)
	}
	if len(vals) != 2 {
		return SlotResult{}, fmt.Errorf("acquire slot %s: unexpected reply %v", key, vals)
	}
	return SlotResult{Acquired: vals[0] == 1, Active: vals[1]}, nil
}

// ReleaseSlot gives one slot back and returns how many remain held.
func ReleaseSlot(ctx context.Context, rdb redis.Scripter, key string) (int64, error) {
	switch {
	case rdb == nil:
		return 0, errNilRedis
	case key == "":
		return 0, errEmptyKey
	}
	n, err := slotReleaseScript.Run(ctx, rdb, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("release slot %s: %w", key, err)
	}
	return n, nil
}
