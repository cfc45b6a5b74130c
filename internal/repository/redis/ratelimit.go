package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hits live in a sorted set scored by arrival time in ms. A rejected attempt
// is not recorded, so retrying while limited does not push the window out.
//
// Reply: {allowed 0|1, hits in window, retry after ms}.
const reserveWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local hits = redis.call('ZCARD', KEYS[1])

if hits >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  if retry < 1 then
    retry = 1
  end
  return {0, hits, retry}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, hits + 1, 0}
`

// Decision is the outcome of one rate-limited attempt.
type Decision struct {
	Allowed bool
	// Hits counts the attempts inside the window, this one included when allowed.
	Hits       int64
	RetryAfter time.Duration
}

// SlidingWindowLimiter allows each user at most limit attempts within any
// window of the given length.
type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	script *redis.Script
	now    func() time.Time
}

func NewSlidingWindowLimiter(
	rdb *redis.Client,
	scope string,
	limit int,
	window time.Duration,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
		script: redis.NewScript(reserveWindowScript),
		now:    time.Now,
	}
}

// Allow records an attempt by userID if it fits in the window.
//
// Parameters:
//   - ctx: request-scoped context.
//   - userID: the caller being limited.
//
// Returns:
//   - Decision: whether the attempt may proceed and, if not, when to retry.
//   - error: if Redis is unreachable or replies unexpectedly.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, userID uuid.UUID) (Decision, error) {
	const op = "redis.SlidingWindowLimiter.Allow"

	reply, err := l.script.Run(
		ctx,
		l.rdb,
		[]string{KeyRateLimit(l.scope, userID.String())},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%s:%w", op, err)
	}

	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("%s: unexpected reply %v", op, reply)
	}

	return Decision{
		Allowed:    reply[0] == 1,
		Hits:       reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}
