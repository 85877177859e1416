package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGovernor_AdmitsExactlyMaxPerWindow(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGovernor(GovernorOptions{Window: time.Minute, MaxRequests: 5, Now: clk.Now})

	for i := 0; i < 5; i++ {
		require.True(t, g.Admit("tm"), "request %d", i+1)
	}
	assert.False(t, g.Admit("tm"), "N+1th request inside the window is denied")
	assert.Equal(t, 0, g.Remaining("tm"))
	assert.Equal(t, time.Minute, g.RetryAfter("tm"))

	clk.Advance(time.Minute)
	assert.True(t, g.Admit("tm"), "window reset")
	assert.Equal(t, 4, g.Remaining("tm"))
}

func TestGovernor_BudgetsAreIndependent(t *testing.T) {
	clk := &clock{now: time.Now()}
	g := NewGovernor(GovernorOptions{
		Window:      time.Minute,
		MaxRequests: 1,
		Overrides:   map[string]int{"eb": 3},
		Now:         clk.Now,
	})

	require.True(t, g.Admit("tm"))
	require.False(t, g.Admit("tm"))

	for i := 0; i < 3; i++ {
		assert.True(t, g.Admit("eb"))
	}
	assert.False(t, g.Admit("eb"))

	snap := g.Snapshot()
	assert.Equal(t, 1, snap["tm"].Max)
	assert.Equal(t, 3, snap["eb"].Count)
}

func TestGovernor_ConcurrentAdmitNeverExceedsMax(t *testing.T) {
	g := NewGovernor(GovernorOptions{Window: time.Hour, MaxRequests: 50})
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if g.Admit("tm") {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), admitted.Load())
}

func TestGovernor_AwaitWaitsForNextWindow(t *testing.T) {
	g := NewGovernor(GovernorOptions{Window: 80 * time.Millisecond, MaxRequests: 1, WaitCeiling: time.Second})
	require.NoError(t, g.Await(context.Background(), "tm"))

	start := time.Now()
	require.NoError(t, g.Await(context.Background(), "tm"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestGovernor_AwaitDeniesPastCeiling(t *testing.T) {
	g := NewGovernor(GovernorOptions{Window: time.Hour, MaxRequests: 1, WaitCeiling: 10 * time.Millisecond})
	require.NoError(t, g.Await(context.Background(), "tm"))

	start := time.Now()
	err := g.Await(context.Background(), "tm")
	assert.ErrorIs(t, err, ErrDenied)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "denial does not sleep when the wait would exceed the ceiling")
}

func TestGovernor_AwaitHonoursContext(t *testing.T) {
	g := NewGovernor(GovernorOptions{Window: time.Second, MaxRequests: 1, WaitCeiling: time.Minute})
	require.True(t, g.Admit("tm"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Await(ctx, "tm")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernor_Block(t *testing.T) {
	clk := &clock{now: time.Now()}
	g := NewGovernor(GovernorOptions{Window: time.Second, MaxRequests: 10, Now: clk.Now})

	g.Block("tm", clk.Now().Add(30*time.Second))
	assert.False(t, g.Admit("tm"))
	assert.Equal(t, 30*time.Second, g.RetryAfter("tm"))

	clk.Advance(31 * time.Second)
	assert.True(t, g.Admit("tm"))
}

type transient struct{ retry bool }

func (e transient) Error() string   { return "transient" }
func (e transient) Retryable() bool { return e.retry }

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond},
		func(context.Context) error {
			calls++
			return transient{retry: true}
		})
	require.Error(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	n, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Initial: time.Millisecond},
		func(context.Context) error { return transient{retry: false} })
	assert.Equal(t, 1, n)
	var tr transient
	require.ErrorAs(t, err, &tr)

	n, err = Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Initial: time.Millisecond},
		func(context.Context) error { return errors.New("plain") })
	assert.Equal(t, 1, n, "unclassified errors are not retried")
	assert.EqualError(t, err, "plain")
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond},
		func(context.Context) error {
			calls++
			if calls == 1 {
				return transient{retry: true}
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// attemptTimeout is how an adapter reports its own per-attempt deadline.
type attemptTimeout struct{}

func (attemptTimeout) Error() string   { return "attempt timed out" }
func (attemptTimeout) Retryable() bool { return true }
func (attemptTimeout) Unwrap() error   { return context.DeadlineExceeded }

func TestRetry_AttemptTimeoutRetriedWhileCallerHasTime(t *testing.T) {
	calls := 0
	n, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return attemptTimeout{}
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond},
		func(context.Context) error { return context.DeadlineExceeded })
	assert.Equal(t, 3, n, "a bare attempt deadline is transient too")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry_StopsWhenCallerContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n, err := Retry(ctx, RetryPolicy{MaxAttempts: 5, Initial: time.Millisecond},
		func(context.Context) error {
			cancel()
			return attemptTimeout{}
		})
	assert.Equal(t, 1, n)
	assert.Error(t, err)
}

func TestBreakers_OpenAfterConsecutiveFailures(t *testing.T) {
	b := NewBreakers(BreakerOptions{Failures: 2, Cooldown: 50 * time.Millisecond}, zaptest.NewLogger(t))
	fail := func() error { return transient{retry: true} }

	assert.Error(t, b.Execute("tm", fail))
	assert.Error(t, b.Execute("tm", fail))
	assert.Equal(t, "open", b.State("tm"))

	called := false
	err := b.Execute("tm", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	assert.NoError(t, b.Execute("eb", func() error { return nil }), "other providers unaffected")

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, b.Execute("tm", func() error { return nil }))
	assert.Equal(t, "closed", b.State("tm"))
}

func TestBreakers_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreakers(BreakerOptions{Failures: 1}, zaptest.NewLogger(t))
	assert.Error(t, b.Execute("tm", func() error { return transient{retry: false} }))
	assert.Equal(t, "closed", b.State("tm"))
}

func TestBreakers_Disabled(t *testing.T) {
	b := NewBreakers(BreakerOptions{}, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		assert.Error(t, b.Execute("tm", func() error { return transient{retry: true} }))
	}
	assert.Equal(t, "closed", b.State("tm"))
}
