package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable wraps Redis transport failures and timeouts. Callers must deny.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidLimit is returned for a non-positive limit or window.
	ErrInvalidLimit = errors.New("invalid rate limit")
)

const (
	defaultPrefix    = "rl"
	defaultOpTimeout = 500 * time.Millisecond
)

// The expiry is applied on the first hit of a window, and again if a counter
// is ever found without one, so a lost PEXPIRE cannot pin a key forever.
const incrScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var incrLua = redis.NewScript(incrScript)

// CounterConfig configures a [Counter].
type CounterConfig struct {
	Prefix    string
	OpTimeout time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int64
	// ResetAfter is the time left until the current window closes.
	ResetAfter time.Duration
}

// Counter is a fixed-window request counter in Redis.
//
// Windows are aligned to the first request that creates the key, not to the
// wall clock. A caller can therefore be admitted up to 2×limit times within
// one window length when a burst straddles a boundary.
type Counter struct {
	redis     redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

// NewCounter creates a [Counter]. Zero config fields take defaults.
func NewCounter(client redis.UniversalClient, cfg CounterConfig) *Counter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	return &Counter{
		redis:     client,
		prefix:    cfg.Prefix,
		opTimeout: cfg.OpTimeout,
	}
}

// Allow counts one request against key and reports whether it fits within
// limit for the current window. Any store failure returns a denied decision
// together with an error wrapping [ErrStoreUnavailable].
//
//	Performance: 1 Lua script.
func (c *Counter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{Limit: limit}, ErrInvalidLimit
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	defer cancel()

	res, err := incrLua.Run(ctx, c.redis, []string{c.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{Limit: limit}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{Limit: limit}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}

	count, ttl := res[0], res[1]
	return Decision{
		Allowed:    count <= limit,
		Count:      count,
		Limit:      limit,
		ResetAfter: time.Duration(ttl) * time.Millisecond,
	}, nil
}
