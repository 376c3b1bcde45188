// Package store persists items, the price cache, alternatives, item
// snapshots and scheduler job runs.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/partwise/pricing-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the pricing engine.
type Store interface {
	// Items
	CreateItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, filter model.ItemFilter) ([]model.Item, error)
	UpdateItem(ctx context.Context, item *model.Item) error
	SubstituteItem(ctx context.Context, item *model.Item, snap model.ItemSnapshot) error
	RestoreItem(ctx context.Context, item *model.Item) error
	GetSnapshot(ctx context.Context, itemID string) (*model.ItemSnapshot, error)
	SubstitutionStats(ctx context.Context, filter model.ItemFilter) (*model.SubstitutionStats, error)

	// Price cache
	GetPriceCache(ctx context.Context, externalKey string) (*model.PriceCacheEntry, error)
	UpsertPriceCache(ctx context.Context, entry model.PriceCacheEntry) error
	DeleteStalePriceCache(ctx context.Context, expiredBefore time.Time) (int, error)

	// Alternatives
	UpsertCategory(ctx context.Context, cat *model.AlternativeCategory) error
	CreateCandidate(ctx context.Context, cand *model.AlternativeCandidate) error
	ListCandidates(ctx context.Context, originalKey, componentType string) ([]model.AlternativeCandidate, error)
	UpdateCandidatePrice(ctx context.Context, id int64, price float64, rating *float64, checkedAt time.Time) error

	// Job runs
	StartJobRun(ctx context.Context, job, trigger string) (*model.JobRun, error)
	FinishJobRun(ctx context.Context, id string, status model.JobRunStatus, summary json.RawMessage, errMsg string) error
	LatestJobRuns(ctx context.Context) ([]model.JobRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// newStats returns an empty stats value for the given scope.
func newStats(filter model.ItemFilter) *model.SubstitutionStats {
	return &model.SubstitutionStats{
		Scope:    filter,
		ByReason: make(map[string]int),
		ByTier:   make(map[model.Tier]int),
	}
}

func addStatsRow(stats *model.SubstitutionStats, tier model.Tier, substituted bool, reason string, n int) {
	stats.Total += n
	if !substituted {
		return
	}
	stats.Substituted += n
	stats.ByTier[tier] += n
	if reason == "" {
		reason = "unknown"
	}
	stats.ByReason[reason] += n
}

// prepareNewItem applies creation defaults. The original price is frozen
// from the current price when not given.
func prepareNewItem(item *model.Item) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Tier == "" {
		item.Tier = model.TierC
	}
	if item.OriginalPrice == 0 {
		item.OriginalPrice = item.Price
	}
}
