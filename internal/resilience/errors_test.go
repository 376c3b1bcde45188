package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("upstream overloaded"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedRateLimit(t *testing.T) {
	inner := &RateLimitError{Source: "marketplace", StatusCode: 429}
	wrapped := eris.Wrap(inner, "lookup B0TEST")
	assert.True(t, IsTransient(wrapped))

	rl, ok := AsRateLimit(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "marketplace", rl.Source)
}

func TestIsTransient_NilAndRegular(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("listing not found")))
}

func TestIsTransient_ConnectionErrors(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransient(errors.New("Get https://x: net/http: TLS handshake timeout")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient_NetTimeout(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("fetch: %w", timeoutErr{})))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 404, 429} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
	assert.True(t, IsRateLimitHTTPStatus(429))
	assert.False(t, IsRateLimitHTTPStatus(503))
}

func TestRateLimitError_Message(t *testing.T) {
	err := &RateLimitError{Source: "jina", StatusCode: 429, RetryAfter: 10 * time.Second, Reason: "captcha"}
	assert.Equal(t, "jina: rate limited (status 429): captcha, retry after 10s", err.Error())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	h := http.Header{}
	assert.Zero(t, ParseRetryAfter(h, now))

	h.Set("Retry-After", "45")
	assert.Equal(t, 45*time.Second, ParseRetryAfter(h, now))

	h.Set("Retry-After", now.Add(2*time.Minute).Format(http.TimeFormat))
	assert.Equal(t, 2*time.Minute, ParseRetryAfter(h, now))

	h.Set("Retry-After", now.Add(-time.Minute).Format(http.TimeFormat))
	assert.Zero(t, ParseRetryAfter(h, now))

	h.Set("Retry-After", "soon")
	assert.Zero(t, ParseRetryAfter(h, now))
}
