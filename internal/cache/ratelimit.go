package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/qkart/pkg/httpmiddleware"
)

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// fixedWindow increments the counter of the current window and returns it
// with the remaining TTL in milliseconds.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RateLimiter is a fixed window limiter shared by every API instance.
type RateLimiter struct {
	rdb    redis.Scripter
	prefix string
	max    int
	window time.Duration
}

// NewRateLimiter allows limit requests per window and key.
func NewRateLimiter(rdb redis.Scripter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, prefix: "qkart:ratelimit:", max: limit, window: window}
}

// Allow implements httpmiddleware.Limiter.
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	res, err := fixedWindow.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return httpmiddleware.Decision{}, errors.Wrap(err, "rate limit script")
	}
	if len(res) != 2 {
		return httpmiddleware.Decision{}, errors.Errorf("rate limit script: unexpected reply %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = l.window
	}
	d := httpmiddleware.Decision{
		Allowed: count <= l.max,
		Limit:   l.max,
		ResetAt: now.Add(ttl),
	}
	if d.Allowed {
		d.Remaining = l.max - count
	}
	return d, nil
}
