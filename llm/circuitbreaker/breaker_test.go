package circuitbreaker

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

	"github.com/BaSui01/ragcore/types"
)

var errBackend = errors.New("backend down")

// newTestBreaker 返回可手动推进时钟的熔断器
func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("test", cfg, zaptest.NewLogger(t))
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(context.Context) (int, error) { return 0, errBackend }
func ok(context.Context) (int, error)   { return 42, nil }

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	b := New("x", Config{HalfOpenMaxCalls: -1}, nil)
	assert.Equal(t, DefaultConfig().Threshold, b.config.Threshold)
	assert.Equal(t, DefaultConfig().ResetTimeout, b.config.ResetTimeout)
	assert.Equal(t, 1, b.config.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

// ---------------------------------------------------------------------------
// 状态转换
// ---------------------------------------------------------------------------

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Threshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := range 3 {
		_, err := Do(ctx, b, fail)
		require.ErrorIs(t, err, errBackend, "call %d", i)
	}
	assert.Equal(t, StateOpen, b.State())

	calls := 0
	_, err := Do(ctx, b, func(context.Context) (int, error) { calls++; return 0, nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, types.IsProviderUnavailable(err))
	assert.Zero(t, calls)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Threshold: 2})
	ctx := context.Background()

	_, _ = Do(ctx, b, fail)
	v, err := Do(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	_, _ = Do(ctx, b, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(t, Config{Threshold: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	_, _ = Do(ctx, b, fail)
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(5 * time.Second)
	_, err := Do(ctx, b, ok)
	require.ErrorIs(t, err, ErrCircuitOpen)

	*now = now.Add(6 * time.Second)
	v, err := Do(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, Config{Threshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_, _ = Do(ctx, b, fail)
	*now = now.Add(2 * time.Second)
	_, err := Do(ctx, b, fail)
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, b.State())

	// 重新计时
	*now = now.Add(500 * time.Millisecond)
	_, err = Do(ctx, b, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, now := newTestBreaker(t, Config{Threshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1})
	_, _ = Do(context.Background(), b, fail)
	*now = now.Add(2 * time.Second)

	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
	b.Record(nil)
}

func TestBreaker_IgnoredErrors(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Threshold: 1})
	ctx := context.Background()

	_, err := Do(ctx, b, func(context.Context) (int, error) { return 0, context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	badRequest := types.NewError(types.ErrInvalidRequest, "bad prompt").WithRetryable(false)
	_, err = Do(ctx, b, func(context.Context) (int, error) { return 0, badRequest })
	require.Error(t, err)
	assert.Equal(t, StateClosed, b.State())

	_, _ = Do(ctx, b, func(context.Context) (int, error) {
		return 0, types.NewProviderUnavailableError("x", errBackend)
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ResetAndCallbacks(t *testing.T) {
	var mu sync.Mutex
	var changes []string
	b, _ := newTestBreaker(t, Config{Threshold: 1, OnStateChange: func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, from.String()+"->"+to.String())
	}})

	_, _ = Do(context.Background(), b, fail)
	b.Reset()
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->closed"}, changes)
}

func TestBreaker_Concurrent(t *testing.T) {
	b := New("concurrent", Config{Threshold: 1000}, nil)
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn := ok
			if i%2 == 0 {
				fn = fail
			}
			if _, err := Do(context.Background(), b, fn); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(25), failures.Load())
	assert.Equal(t, StateClosed, b.State())
}
