package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/config"
)

// Checker watches recorded refresh runs and source breakers, posting an
// alert to the webhook for every breached threshold. Alerts repeat on each
// check while the condition holds.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run checks once at startup, then every interval until ctx is cancelled.
// Without a webhook there is nowhere to deliver alerts and Run returns
// immediately.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	if c.cfg.WebhookURL == "" {
		log.Info("no alert webhook configured, checker disabled")
		return
	}

	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Float64("failure_rate_threshold", c.cfg.FailureRateThreshold),
	)

	c.check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect refresh health", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: refresh healthy",
			zap.Int("jobs", snap.JobsTotal),
			zap.Int("refreshed_items", snap.RefreshTotal),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Strings("failed_jobs", snap.FailedJobs),
		zap.Strings("open_sources", snap.OpenSources),
		zap.Float64("refresh_fail_rate", snap.RefreshFailRate),
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
