package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/apperr"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
	return nil
}

func newTestLimiter(t *testing.T, rate float64, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l, err := New(rate, burst, WithClock(clock.Now), WithSleeper(clock.Sleep), WithName("test"))
	require.NoError(t, err)
	return l, clock
}

func TestNewRejectsStarvingConfig(t *testing.T) {
	_, err := New(0, 10)
	require.Error(t, err)
	assert.Equal(t, apperr.Configuration, apperr.KindOf(err))

	_, err = New(60, 0)
	require.Error(t, err)
	assert.Equal(t, apperr.Configuration, apperr.KindOf(err))

	_, err = New(-1, 5)
	assert.Error(t, err)
}

func TestSpacedAcquiresNeverWait(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 1)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, l.Acquire(ctx))
		clock.Advance(time.Second) // 60/rate_per_minute seconds
	}
	assert.Empty(t, clock.sleeps)
}

func TestBurstPlusOneWaits(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Empty(t, clock.sleeps)

	require.NoError(t, l.Acquire(ctx))
	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, time.Second, clock.sleeps[0])
}

func TestTokensCapAtBurst(t *testing.T) {
	l, clock := newTestLimiter(t, 120, 3)
	require.True(t, l.TryAcquire())
	clock.Advance(time.Hour)
	assert.InDelta(t, 3.0, l.Tokens(), 1e-9)
}

func TestRetryAfterAndCheck(t *testing.T) {
	l, clock := newTestLimiter(t, 30, 1) // one token every 2s

	assert.Equal(t, time.Duration(0), l.RetryAfter())
	require.NoError(t, l.Check())

	err := l.Check()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.RateLimit, ae.Kind)
	assert.Equal(t, 2*time.Second, ae.RetryAfter)
	assert.InDelta(t, 2.0, ae.Details["retry_after"], 1e-9)

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, l.RetryAfter())

	clock.Advance(1500 * time.Millisecond)
	assert.NoError(t, l.Check())
}

func TestTinyRateWaitIsCapped(t *testing.T) {
	l, clock := newTestLimiter(t, 1e-300, 1)
	require.True(t, l.TryAcquire())
	assert.Equal(t, maxWait, l.RetryAfter())

	var waits []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 3 {
			return context.Canceled
		}
		clock.Advance(d)
		return nil
	}
	WithSleeper(sleeper)(l)

	err := l.Acquire(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{maxWait, maxWait, maxWait}, waits)
}

func TestAcquireHonoursContext(t *testing.T) {
	l, _ := New(1, 1)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAcquireNeverOverspends(t *testing.T) {
	l, _ := New(60, 5)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, granted)
}

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestConfigBuild(t *testing.T) {
	l, err := DefaultConfig().Build(WithName("reasoning"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, l.Tokens())

	_, err = Config{RatePerMinute: 60}.Build()
	assert.True(t, apperr.Is(err, apperr.Configuration))
}
