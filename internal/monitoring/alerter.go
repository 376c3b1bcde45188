package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailure         AlertType = "job_failure"
	AlertRefreshFailureRate AlertType = "refresh_failure_rate"
	AlertSourcesDown        AlertType = "sources_down"
)

// minRefreshItems is the smallest refresh volume a failure rate alert
// is raised on.
const minRefreshItems = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if len(snap.FailedJobs) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d scheduler job(s) failed in last %dh: %s",
				len(snap.FailedJobs), snap.LookbackHours, strings.Join(snap.FailedJobs, ", "),
			),
			Details: map[string]any{
				"failed_jobs": snap.FailedJobs,
				"jobs_total":  snap.JobsTotal,
			},
			Timestamp: now,
		})
	}

	if snap.RefreshTotal >= minRefreshItems && snap.RefreshFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRefreshFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Refresh failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d items in last %dh)",
				snap.RefreshFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RefreshFailed, snap.RefreshTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RefreshFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RefreshFailed,
				"unresolved":   snap.RefreshUnresolved,
				"total":        snap.RefreshTotal,
			},
			Timestamp: now,
		})
	}

	if open := len(snap.OpenSources); open > 0 {
		severity := "medium"
		if open == snap.SourceCount {
			severity = "high"
		}
		alerts = append(alerts, Alert{
			Type:     AlertSourcesDown,
			Severity: severity,
			Message: fmt.Sprintf(
				"%d of %d price source(s) have an open circuit: %s",
				open, snap.SourceCount, strings.Join(snap.OpenSources, ", "),
			),
			Details: map[string]any{
				"open_sources": snap.OpenSources,
				"source_count": snap.SourceCount,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
