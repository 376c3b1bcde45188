package monitoring

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/refresh"
	"github.com/partwise/pricing-cli/internal/scheduler"
)

// MetricsSnapshot holds a point-in-time view of refresh health.
type MetricsSnapshot struct {
	// Latest run per job started within the lookback window.
	JobsTotal  int      `json:"jobs_total"`
	FailedJobs []string `json:"failed_jobs,omitempty"`

	// Item outcomes summed over the latest tier refresh runs.
	RefreshTotal       int     `json:"refresh_total"`
	RefreshFailed      int     `json:"refresh_failed"`
	RefreshUnresolved  int     `json:"refresh_unresolved"`
	RefreshSubstituted int     `json:"refresh_substituted"`
	RefreshFailRate    float64 `json:"refresh_fail_rate"`

	// Source breakers.
	SourceCount int      `json:"source_count"`
	OpenSources []string `json:"open_sources,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister returns the most recent run of every job.
type RunLister interface {
	LatestJobRuns(ctx context.Context) ([]model.JobRun, error)
}

// BreakerStates reports the state of each source circuit breaker.
type BreakerStates interface {
	States() map[string]string
}

var refreshJobs = map[string]bool{
	scheduler.JobRefreshTierA: true,
	scheduler.JobRefreshTierB: true,
}

// Collector gathers metrics from recorded job runs and source breakers.
type Collector struct {
	runs     RunLister
	breakers BreakerStates
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(runs RunLister, breakers BreakerStates) *Collector {
	return &Collector{runs: runs, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.LatestJobRuns(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list job runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		if r.Status == model.JobRunFailed {
			snap.FailedJobs = append(snap.FailedJobs, r.Job)
		}
		if !refreshJobs[r.Job] || r.Status != model.JobRunComplete || len(r.Summary) == 0 {
			continue
		}
		var rep refresh.BatchReport
		if err := json.Unmarshal(r.Summary, &rep); err != nil {
			zap.L().Warn("monitoring: unreadable refresh summary",
				zap.String("job", r.Job), zap.String("run_id", r.ID), zap.Error(err))
			continue
		}
		snap.RefreshTotal += rep.Total
		snap.RefreshFailed += rep.Failed
		snap.RefreshUnresolved += rep.Unresolved
		snap.RefreshSubstituted += rep.Substituted
	}
	if snap.RefreshTotal > 0 {
		snap.RefreshFailRate = float64(snap.RefreshFailed) / float64(snap.RefreshTotal)
	}

	if c.breakers != nil {
		states := c.breakers.States()
		snap.SourceCount = len(states)
		for name, state := range states {
			if state == "open" {
				snap.OpenSources = append(snap.OpenSources, name)
			}
		}
		sort.Strings(snap.OpenSources)
	}

	return snap, nil
}
