package scheduler

import (
	"context"

	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/refresh"
)

// Job names.
const (
	JobRefreshTierA = "refresh_tier_a"
	JobRefreshTierB = "refresh_tier_b"
	JobCacheCleanup = "cache_cleanup"
	JobAssignTiers  = "assign_tiers"
)

// Cadences are the cron expressions of the default jobs. An empty cadence
// registers the job for manual triggering only.
type Cadences struct {
	TierA        string `mapstructure:"tier_a"`
	TierB        string `mapstructure:"tier_b"`
	CacheCleanup string `mapstructure:"cache_cleanup"`
	AssignTiers  string `mapstructure:"assign_tiers"`
}

// DefaultCadences refreshes tier A daily, tier B every four days and prunes
// the cache weekly. Tier C has no job.
func DefaultCadences() Cadences {
	return Cadences{
		TierA:        "0 3 * * *",
		TierB:        "@every 96h",
		CacheCleanup: "0 4 * * 0",
		AssignTiers:  "0 2 * * *",
	}
}

// Jobs is the work the default jobs run (refresh.Service).
type Jobs interface {
	RefreshTier(ctx context.Context, tier model.Tier) (*refresh.BatchReport, error)
	CleanupCache(ctx context.Context) (int, error)
	AssignTiers(ctx context.Context) (*refresh.TierReport, error)
}

// DefaultJobs builds the descriptors for the standard jobs.
func DefaultJobs(c Cadences, jobs Jobs) []JobDescriptor {
	return []JobDescriptor{
		{Name: JobRefreshTierA, Cadence: c.TierA, Handler: refreshTier(jobs, model.TierA)},
		{Name: JobRefreshTierB, Cadence: c.TierB, Handler: refreshTier(jobs, model.TierB)},
		{
			Name:    JobCacheCleanup,
			Cadence: c.CacheCleanup,
			Handler: func(ctx context.Context) (any, error) {
				n, err := jobs.CleanupCache(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int{"deleted": n}, nil
			},
		},
		{
			Name:    JobAssignTiers,
			Cadence: c.AssignTiers,
			Handler: func(ctx context.Context) (any, error) {
				return jobs.AssignTiers(ctx)
			},
		},
	}
}

func refreshTier(jobs Jobs, tier model.Tier) Handler {
	return func(ctx context.Context) (any, error) {
		rep, err := jobs.RefreshTier(ctx, tier)
		if err != nil {
			return nil, err
		}
		// Per-item results stay in the logs; the run summary keeps counts.
		summary := *rep
		summary.Results = nil
		return summary, nil
	}
}
