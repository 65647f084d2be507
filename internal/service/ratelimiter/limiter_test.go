package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limits map[string]map[string]int) (*Limiter, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := New(rdb, limits, 10*time.Millisecond, 50*time.Millisecond)
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l.now = clk.Now
	return l, clk
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestPermit_NoConfiguredWindowsAlwaysAllows(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, nil)
	assert.True(t, l.Permit(ctx, "groq"))
	// Permit without a prior Record never blocks.
	assert.True(t, l.Permit(ctx, "groq"))
}

func TestRecordAndPermit_MinuteCeiling(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLimiter(t, map[string]map[string]int{
		"groq": {PerMinute: 3},
	})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Permit(ctx, "groq"), "call %d", i)
		l.Record(ctx, "groq")
	}
	assert.False(t, l.Permit(ctx, "groq"))

	// Next minute bucket: counter is fresh again.
	clk.Advance(time.Minute)
	assert.True(t, l.Permit(ctx, "groq"))
}

func TestRecord_AllConfiguredWindowsCount(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, map[string]map[string]int{
		"cohere": {PerMinute: 10, PerDay: 2},
	})

	l.Record(ctx, "cohere")
	l.Record(ctx, "cohere")
	// Minute window has room but the day window is exhausted.
	assert.False(t, l.Permit(ctx, "cohere"))

	usage, err := l.Usage(ctx, "cohere")
	require.NoError(t, err)
	assert.Equal(t, 2, usage[PerMinute].Count)
	assert.Equal(t, 2, usage[PerDay].Count)
	assert.InDelta(t, 100.0, usage[PerDay].PercentageUsed, 0.01)
}

func TestAwaitPermit_ReturnsOnceWindowRolls(t *testing.T) {
	ctx := context.Background()
	l, clk := newTestLimiter(t, map[string]map[string]int{
		"groq": {PerMinute: 1},
	})
	l.Record(ctx, "groq")
	require.False(t, l.Permit(ctx, "groq"))

	done := make(chan error, 1)
	go func() { done <- l.AwaitPermit(ctx, "groq") }()

	time.Sleep(20 * time.Millisecond)
	clk.Advance(time.Minute)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitPermit did not return after the window rolled")
	}
}

func TestAwaitPermit_HonorsContextCancellation(t *testing.T) {
	l, _ := newTestLimiter(t, map[string]map[string]int{
		"groq": {PerMinute: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	l.Record(ctx, "groq")

	done := make(chan error, 1)
	go func() { done <- l.AwaitPermit(ctx, "groq") }()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitPermit ignored cancellation")
	}
}

func TestAwaitPermit_UnlimitedProviderReturnsImmediately(t *testing.T) {
	l, _ := newTestLimiter(t, nil)
	assert.NoError(t, l.AwaitPermit(context.Background(), "anything"))
}
