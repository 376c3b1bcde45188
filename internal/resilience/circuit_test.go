package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = NewTransientError(errors.New("upstream 502"), 502)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("marketplace", CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	cb.nowFunc = clk.Now
	return cb, clk
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.Record(errUpstream)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	cb.Record(errUpstream)
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_NonTransientDoesNotTrip(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	cb.Record(errors.New("listing not found"))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	cb.Record(errUpstream)
	cb.Record(nil)
	cb.Record(errUpstream)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)

	cb.Record(errUpstream)
	assert.Equal(t, CircuitOpen, cb.State())

	clk.Advance(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Allow())

	cb.Record(nil)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)

	cb.Record(errUpstream)
	clk.Advance(time.Minute)
	require.NoError(t, cb.Allow())

	cb.Record(errUpstream)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Error(t, cb.Allow())
}

func TestCircuitBreaker_Penalize(t *testing.T) {
	cb, clk := newTestBreaker(5, time.Minute)

	cb.Penalize(90 * time.Second)
	assert.Equal(t, CircuitOpen, cb.State())

	// A shorter penalty does not shorten an existing one.
	cb.Penalize(10 * time.Second)
	clk.Advance(30 * time.Second)
	assert.Error(t, cb.Allow())

	clk.Advance(60 * time.Second)
	assert.NoError(t, cb.Allow())

	cb.Penalize(0)
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("jina", CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	cb.Record(errUpstream)
	cb.Reset()
	assert.Equal(t, []string{"jina:closed->open", "jina:open->closed"}, transitions)
}

func TestServiceBreakers(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1})

	a := sb.Get("marketplace")
	assert.Same(t, a, sb.Get("marketplace"))
	assert.Equal(t, "marketplace", a.Name())

	sb.Get("jina").Record(errUpstream)
	states := sb.States()
	assert.Equal(t, "closed", states["marketplace"])
	assert.Equal(t, "open", states["jina"])
}

func TestServiceBreakers_ConcurrentGet(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = sb.Get("firecrawl")
		}(i)
	}
	wg.Wait()
	for _, cb := range got {
		assert.Same(t, got[0], cb)
	}
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
