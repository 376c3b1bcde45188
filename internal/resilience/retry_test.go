package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errUpstream
		}
		return "connected", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "connected", v)
	assert.Equal(t, 2, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errUpstream
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_NonTransientNoRetry(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("bad credentials")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errUpstream
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_OnRetry(t *testing.T) {
	var attempts []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, err error) { attempts = append(attempts, attempt) }

	_, _ = DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		return 0, errUpstream
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 300*time.Millisecond, computeBackoff(2, cfg))

	cfg.JitterFraction = 0.5
	for i := 0; i < 50; i++ {
		d := computeBackoff(0, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Jitter(2*time.Second, 6*time.Second)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
	assert.Equal(t, time.Second, Jitter(time.Second, time.Second))
	assert.Equal(t, time.Second, Jitter(time.Second, 0))
}

func TestRetryLogger(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	RetryLogger("store", "connect")(2, errUpstream)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "retrying operation", entry.Message)
	assert.Equal(t, "store", entry.ContextMap()["service"])
	assert.Equal(t, int64(2), entry.ContextMap()["attempt"])
}
