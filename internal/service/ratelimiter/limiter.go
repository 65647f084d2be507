// Package ratelimiter caps request volume per provider against shared
// Redis counters.
//
// Windows are fixed, non-sliding buckets keyed by floor(now/length): a
// burst straddling a window boundary can momentarily reach twice the
// nominal rate. That is an accepted trade-off of the bucket scheme, kept
// deliberately instead of a sliding-window algorithm.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/hivewriter/content-motor/internal/observability"
)

// Window interval names, in evaluation order.
const (
	PerMinute = "per_minute"
	PerHour   = "per_hour"
	PerDay    = "per_day"
)

var windowLengths = map[string]time.Duration{
	PerMinute: time.Minute,
	PerHour:   time.Hour,
	PerDay:    24 * time.Hour,
}

var windowOrder = []string{PerMinute, PerHour, PerDay}

// recordScript increments every configured window counter and refreshes
// each counter's expiry to the remainder of its window, in one atomic
// round trip. ARGV carries the per-key TTL in milliseconds.
const recordScript = `
for i, key in ipairs(KEYS) do
  redis.call("INCR", key)
  redis.call("PEXPIRE", key, ARGV[i])
end
return #KEYS
`

// WindowUsage is the introspection view of one window counter.
type WindowUsage struct {
	Count          int     `json:"current_usage"`
	Limit          int     `json:"limit"`
	PercentageUsed float64 `json:"percentage_used"`
}

// Limiter tracks per-provider request counts in Redis.
type Limiter struct {
	rdb            *redis.Client
	namespace      string
	limits         map[string]map[string]int
	record         *redis.Script
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// New builds a Limiter. limits maps provider name to window name to
// ceiling; providers absent from the map are never limited.
func New(rdb *redis.Client, limits map[string]map[string]int, initialBackoff, maxBackoff time.Duration) *Limiter {
	if limits == nil {
		limits = map[string]map[string]int{}
	}
	return &Limiter{
		rdb:            rdb,
		namespace:      "ratelimit",
		limits:         limits,
		record:         redis.NewScript(recordScript),
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		now:            time.Now,
	}
}

func (l *Limiter) key(provider, window string, now time.Time) string {
	length := windowLengths[window]
	id := now.Unix() / int64(length/time.Second)
	return fmt.Sprintf("%s:%s:%s:%d", l.namespace, provider, window, id)
}

// configuredWindows returns the provider's windows in stable order.
func (l *Limiter) configuredWindows(provider string) []string {
	limits, ok := l.limits[provider]
	if !ok || len(limits) == 0 {
		return nil
	}
	var ws []string
	for _, w := range windowOrder {
		if limits[w] > 0 {
			ws = append(ws, w)
		}
	}
	return ws
}

// Permit reports whether a request may be made right now. A provider with
// no configured windows always permits. Redis errors fail open so a store
// outage cannot halt the pipeline.
func (l *Limiter) Permit(ctx context.Context, provider string) bool {
	ws := l.configuredWindows(provider)
	if len(ws) == 0 {
		return true
	}
	now := l.now()
	keys := make([]string, len(ws))
	for i, w := range ws {
		keys[i] = l.key(provider, w, now)
	}
	counts, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Error("rate limiter read failed; failing open",
			slog.String("provider", provider), slog.Any("error", err))
		return true
	}
	for i, w := range ws {
		count := toInt(counts[i])
		if count >= l.limits[provider][w] {
			slog.Warn("rate limit reached",
				slog.String("provider", provider),
				slog.String("window", w),
				slog.Int("count", count),
				slog.Int("limit", l.limits[provider][w]))
			return false
		}
	}
	return true
}

// AwaitPermit blocks until Permit allows a request, sleeping with
// exponential backoff between checks (initial doubling up to max). It
// never records an attempt and never bounds the total wait on its own;
// cancellation comes from ctx.
func (l *Limiter) AwaitPermit(ctx context.Context, provider string) error {
	if len(l.configuredWindows(provider)) == 0 {
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.initialBackoff
	bo.MaxInterval = l.maxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	op := func() error {
		if l.Permit(ctx, provider) {
			return nil
		}
		observability.RateLimitDenialsTotal.WithLabelValues(provider).Inc()
		return fmt.Errorf("rate limit hit for %q", provider)
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// Record counts one request against every configured window of the
// provider. Increment and expiry refresh run as a single Lua script.
func (l *Limiter) Record(ctx context.Context, provider string) {
	ws := l.configuredWindows(provider)
	if len(ws) == 0 {
		return
	}
	now := l.now()
	keys := make([]string, len(ws))
	ttls := make([]interface{}, len(ws))
	for i, w := range ws {
		keys[i] = l.key(provider, w, now)
		length := windowLengths[w]
		windowEnd := (now.Unix()/int64(length/time.Second) + 1) * int64(length/time.Second)
		ttls[i] = (windowEnd - now.Unix()) * 1000
	}
	if err := l.record.Run(ctx, l.rdb, keys, ttls...).Err(); err != nil {
		slog.Error("rate limiter record failed",
			slog.String("provider", provider), slog.Any("error", err))
	}
}

// Usage returns current counters vs ceilings for the ops endpoints.
func (l *Limiter) Usage(ctx context.Context, provider string) (map[string]WindowUsage, error) {
	ws := l.configuredWindows(provider)
	usage := make(map[string]WindowUsage, len(ws))
	if len(ws) == 0 {
		return usage, nil
	}
	now := l.now()
	keys := make([]string, len(ws))
	for i, w := range ws {
		keys[i] = l.key(provider, w, now)
	}
	counts, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("op=ratelimiter.Usage provider=%s: %w", provider, err)
	}
	for i, w := range ws {
		count := toInt(counts[i])
		limit := l.limits[provider][w]
		u := WindowUsage{Count: count, Limit: limit}
		if limit > 0 {
			u.PercentageUsed = float64(count) / float64(limit) * 100
		}
		usage[w] = u
	}
	return usage, nil
}

// Providers lists the provider names with configured ceilings.
func (l *Limiter) Providers() []string {
	names := make([]string, 0, len(l.limits))
	for name := range l.limits {
		names = append(names, name)
	}
	return names
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0
		}
		return n
	case int64:
		return int(t)
	default:
		return 0
	}
}
