package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// DialSlotLimiter caps concurrent outbound dials per campaign using a
// Redis counter. The check-and-increment runs as a single Lua script so
// multiple worker instances cannot overshoot the ceiling.
type DialSlotLimiter struct {
	client       *redis.Client
	defaultLimit int
	ttl          time.Duration
}

// NewDialSlotLimiter constructs a limiter. The TTL bounds how long a
// leaked slot can linger after a crash.
func NewDialSlotLimiter(client *redis.Client, defaultLimit int, ttl time.Duration) *DialSlotLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DialSlotLimiter{client: client, defaultLimit: defaultLimit, ttl: ttl}
}

// Acquire attempts to reserve a dial slot for the campaign.
func (l *DialSlotLimiter) Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	if campaignID == uuid.Nil {
		return true, nil
	}
	if limit <= 0 {
		limit = l.defaultLimit
	}
	if limit <= 0 {
		return true, nil
	}

	script := redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

	key := l.key(campaignID)
	res, err := script.Run(ctx, l.client, []string{key}, limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("dial slot acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot.
func (l *DialSlotLimiter) Release(ctx context.Context, campaignID uuid.UUID) error {
	if campaignID == uuid.Nil {
		return nil
	}
	key := l.key(campaignID)
	script := redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)
	if _, err := script.Run(ctx, l.client, []string{key}).Int(); err != nil {
		return fmt.Errorf("dial slot release: %w", err)
	}
	return nil
}

func (l *DialSlotLimiter) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("dialer:campaign:%s:dials", campaignID.String())
}
