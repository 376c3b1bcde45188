package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/config"
	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/scheduler"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           ts.URL,
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.2,
	}
	checker := NewChecker(NewCollector(&mockRuns{}, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	cfg := config.MonitoringConfig{WebhookURL: "http://127.0.0.1:1/hook"}
	checker := NewChecker(NewCollector(&mockRuns{}, nil), NewAlerter(cfg), cfg)
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_NoWebhookSkipsCollection(t *testing.T) {
	runs := &mockRuns{err: errors.New("should not be called")}
	checker := NewChecker(NewCollector(runs, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{CheckIntervalSecs: 1})

	done := make(chan struct{})
	go func() {
		checker.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Checker.Run without a webhook should return immediately")
	}
	assert.Zero(t, runs.calls)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, LookbackWindowHours: 24, FailureRateThreshold: 0.2}
	runs := &mockRuns{runs: []model.JobRun{
		{ID: "1", Job: scheduler.JobRefreshTierA, Status: model.JobRunFailed, StartedAt: time.Now().UTC().Add(-time.Hour)},
	}}
	checker := NewChecker(NewCollector(runs, mockBreakers{"jina": "open"}), NewAlerter(cfg), cfg)

	sent := checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}
