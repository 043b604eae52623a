// Package ratelimit enforces fixed-window request allowances with
// counters shared across processes through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces rate-limit counters in Redis.
const DefaultPrefix = "langhook:ratelimit"

var windows = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// Rate is a fixed-window request allowance, e.g. 200 per minute.
type Rate struct {
	Limit  int
	Window time.Duration
}

func (r Rate) String() string {
	for name, window := range windows {
		if window == r.Window {
			return fmt.Sprintf("%d/%s", r.Limit, name)
		}
	}
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// ParseRate parses a "<count>/<window>" allowance such as "200/minute".
// The window is one of second, minute, hour or day.
func ParseRate(s string) (Rate, error) {
	count, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: expected <count>/<window>, e.g. 200/minute", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || limit <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", s)
	}
	window, ok := windows[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: window must be one of second, minute, hour, day", s)
	}
	return Rate{Limit: limit, Window: window}, nil
}

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	client *redis.Client
	rate   Rate
	prefix string
	now    func() time.Time
}

// New creates a limiter on the given Redis client.
func New(client *redis.Client, rate Rate, prefix string) *Limiter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Limiter{client: client, rate: rate, prefix: prefix, now: time.Now}
}

// Rate returns the configured allowance.
func (l *Limiter) Rate() Rate {
	return l.rate
}

// Allow counts one request against key's current window and reports
// whether it fits the allowance. On store errors the request is
// allowed: ingestion does not stop because the cache is down.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	counter := fmt.Sprintf("%s:%s:%d", l.prefix, key, l.bucket())

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, counter)
	// Keep the counter one extra window so a read racing the rollover
	// still resolves.
	pipe.Expire(ctx, counter, 2*l.rate.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit check failed for %s: %w", key, err)
	}
	return count.Val() <= int64(l.rate.Limit), nil
}

// RetryAfter reports how long until the current window rolls over.
func (l *Limiter) RetryAfter() time.Duration {
	windowSecs := int64(l.rate.Window / time.Second)
	now := l.now().Unix()
	return time.Duration((l.bucket()+1)*windowSecs-now) * time.Second
}

func (l *Limiter) bucket() int64 {
	return l.now().Unix() / int64(l.rate.Window/time.Second)
}
