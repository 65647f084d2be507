// Package breaker guards named operations with a circuit breaker whose
// state lives in Redis, so every worker observes the same breaker.
//
// Each state transition runs as a single Lua script: concurrent workers
// can never interleave a read-modify-write on the failure counter or the
// state field.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/observability"
)

// State is a breaker state name as stored in Redis.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// recordTTL keeps stale breaker records from accumulating; refreshed on
// every mutation, far longer than any recovery timeout.
const recordTTL = time.Hour

// preCallScript decides whether a call may proceed. Returns "allow",
// "reject", or "trial". A trial atomically moves the record to half-open
// and pushes open_until forward so a crashed trial caller cannot wedge the
// breaker in half-open forever.
const preCallScript = `
local state = redis.call("HGET", KEYS[1], "state")
if not state or state == "closed" then
  return "allow"
end
local now = tonumber(ARGV[1])
local open_until = tonumber(redis.call("HGET", KEYS[1], "open_until") or "0")
if now < open_until then
  return "reject"
end
redis.call("HSET", KEYS[1], "state", "half_open", "open_until", now + tonumber(ARGV[2]))
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))
return "trial"
`

// successScript closes the breaker and resets the failure counter.
// Returns the previous state.
const successScript = `
local state = redis.call("HGET", KEYS[1], "state")
if not state then state = "closed" end
redis.call("HSET", KEYS[1], "state", "closed", "failures", 0)
redis.call("HDEL", KEYS[1], "open_until")
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[1]))
return state
`

// failureScript records a non-excluded failure. A half-open trial failure
// re-opens immediately; otherwise the counter accumulates and trips the
// breaker at the threshold, with the counter reset on the transition.
// Returns the resulting state.
const failureScript = `
local state = redis.call("HGET", KEYS[1], "state")
if not state then state = "closed" end
local new = state
if state == "half_open" then
  redis.call("HSET", KEYS[1], "state", "open", "open_until", tonumber(ARGV[1]) + tonumber(ARGV[3]), "failures", 0)
  new = "open"
else
  local failures = redis.call("HINCRBY", KEYS[1], "failures", 1)
  if failures >= tonumber(ARGV[2]) then
    redis.call("HSET", KEYS[1], "state", "open", "open_until", tonumber(ARGV[1]) + tonumber(ARGV[3]), "failures", 0)
    new = "open"
  end
end
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[4]))
return new
`

// Listener observes breaker state transitions.
type Listener func(operation string, from, to State)

// Status is the introspection view of one breaker record.
type Status struct {
	Operation string    `json:"operation"`
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

// Breaker wraps outbound calls per named operation.
type Breaker struct {
	rdb              *redis.Client
	namespace        string
	enabled          bool
	failureThreshold int
	recoveryTimeout  time.Duration
	listeners        []Listener
	preCall          *redis.Script
	onSuccess        *redis.Script
	onFailure        *redis.Script
	now              func() time.Time
}

// New builds a Breaker. When enabled is false, Do is a transparent
// passthrough that touches no shared state at all, so re-enabling later
// starts from clean counters.
func New(rdb *redis.Client, enabled bool, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		rdb:              rdb,
		namespace:        "breaker",
		enabled:          enabled,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		preCall:          redis.NewScript(preCallScript),
		onSuccess:        redis.NewScript(successScript),
		onFailure:        redis.NewScript(failureScript),
		now:              time.Now,
	}
}

// AddListener registers a transition listener. Listener panics are
// recovered; a broken listener can never block a transition.
func (b *Breaker) AddListener(l Listener) {
	b.listeners = append(b.listeners, l)
}

func (b *Breaker) key(operation string) string {
	return fmt.Sprintf("%s:%s", b.namespace, operation)
}

func (b *Breaker) notify(operation string, from, to State) {
	observability.BreakerTransitionsTotal.WithLabelValues(operation, string(to)).Inc()
	for _, l := range b.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("breaker listener panicked",
						slog.String("operation", operation), slog.Any("panic", r))
				}
			}()
			l(operation, from, to)
		}()
	}
}

// Do invokes fn under the breaker for the named operation. While open it
// returns domain.ErrCircuitOpen without calling fn. Errors matching one of
// excluded (via errors.Is) propagate untouched and do not count against
// the breaker. Other failures are recorded, then re-raised wrapped in
// domain.ErrProviderCallFailed.
func (b *Breaker) Do(ctx context.Context, operation string, fn func(context.Context) (string, error), excluded ...error) (string, error) {
	if !b.enabled {
		return fn(ctx)
	}

	nowSec := b.now().Unix()
	verdict, err := b.preCall.Run(ctx, b.rdb,
		[]string{b.key(operation)},
		nowSec, int(b.recoveryTimeout.Seconds()), int(recordTTL.Seconds()),
	).Text()
	if err != nil {
		// A store outage must not take the pipeline down with it.
		slog.Error("breaker state check failed; passing call through",
			slog.String("operation", operation), slog.Any("error", err))
		return fn(ctx)
	}

	from := StateClosed
	switch verdict {
	case "reject":
		slog.Warn("circuit open; call rejected", slog.String("operation", operation))
		return "", fmt.Errorf("op=breaker.Do operation=%s: %w", operation, domain.ErrCircuitOpen)
	case "trial":
		from = StateHalfOpen
		b.notify(operation, StateOpen, StateHalfOpen)
	}

	out, callErr := fn(ctx)
	if callErr != nil {
		for _, ex := range excluded {
			if errors.Is(callErr, ex) {
				// Business-logic outcome: surfaced, never counted.
				return out, callErr
			}
		}
		newState, recErr := b.onFailure.Run(ctx, b.rdb,
			[]string{b.key(operation)},
			nowSec, b.failureThreshold, int(b.recoveryTimeout.Seconds()), int(recordTTL.Seconds()),
		).Text()
		if recErr != nil {
			slog.Error("breaker failure record failed",
				slog.String("operation", operation), slog.Any("error", recErr))
		} else if State(newState) == StateOpen {
			slog.Warn("circuit opened",
				slog.String("operation", operation),
				slog.Duration("recovery_timeout", b.recoveryTimeout))
			b.notify(operation, from, StateOpen)
		}
		return "", fmt.Errorf("op=breaker.Do operation=%s: %w: %w", operation, domain.ErrProviderCallFailed, callErr)
	}

	prev, recErr := b.onSuccess.Run(ctx, b.rdb,
		[]string{b.key(operation)}, int(recordTTL.Seconds()),
	).Text()
	if recErr != nil {
		slog.Error("breaker success record failed",
			slog.String("operation", operation), slog.Any("error", recErr))
	} else if State(prev) == StateHalfOpen {
		slog.Info("circuit closed after successful trial", slog.String("operation", operation))
		b.notify(operation, StateHalfOpen, StateClosed)
	}
	return out, nil
}

// Status reads the current record for one operation. Unknown operations
// report a closed breaker with zero failures.
func (b *Breaker) Status(ctx context.Context, operation string) (Status, error) {
	st := Status{Operation: operation, State: StateClosed}
	if !b.enabled {
		return st, nil
	}
	fields, err := b.rdb.HGetAll(ctx, b.key(operation)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("op=breaker.Status operation=%s: %w", operation, err)
	}
	if s, ok := fields["state"]; ok && s != "" {
		st.State = State(s)
	}
	if f, ok := fields["failures"]; ok {
		st.Failures, _ = strconv.Atoi(f)
	}
	if ou, ok := fields["open_until"]; ok {
		if sec, err := strconv.ParseInt(ou, 10, 64); err == nil {
			st.OpenUntil = time.Unix(sec, 0)
		}
	}
	return st, nil
}

// Names lists every operation with a live breaker record.
func (b *Breaker) Names(ctx context.Context) ([]string, error) {
	if !b.enabled {
		return nil, nil
	}
	var names []string
	iter := b.rdb.Scan(ctx, 0, b.namespace+":*", 100).Iterator()
	prefix := b.namespace + ":"
	for iter.Next(ctx) {
		names = append(names, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("op=breaker.Names: %w", err)
	}
	return names, nil
}
