package substitution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/pricecache"
)

// PriceSourceSubstitution is recorded as the item's price source after a
// substitution.
const PriceSourceSubstitution = "substitution"

var (
	// ErrNotSubstituted is returned when restoring an item that is not
	// currently substituted.
	ErrNotSubstituted = eris.New("substitution: item is not substituted")

	// ErrNoOriginal is returned when a substituted item carries no
	// preserved original to restore.
	ErrNoOriginal = eris.New("substitution: no preserved original")
)

// Store is the persistence the engine needs.
type Store interface {
	SubstituteItem(ctx context.Context, item *model.Item, snap model.ItemSnapshot) error
	RestoreItem(ctx context.Context, item *model.Item) error
	GetSnapshot(ctx context.Context, itemID string) (*model.ItemSnapshot, error)
	SubstitutionStats(ctx context.Context, filter model.ItemFilter) (*model.SubstitutionStats, error)
}

// Engine evaluates listings and performs reversible substitutions.
type Engine struct {
	store Store
	cache *pricecache.Cache
	tol   Tolerance

	now func() time.Time
	log *zap.Logger
}

// NewEngine creates an Engine. cache may be nil.
func NewEngine(store Store, cache *pricecache.Cache, tol Tolerance) *Engine {
	return &Engine{
		store: store,
		cache: cache,
		tol:   tol,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "substitution")),
	}
}

// Tolerance returns the configured tolerance.
func (e *Engine) Tolerance() Tolerance { return e.tol }

// Evaluate decides what a listing result means for item.
func (e *Engine) Evaluate(item *model.Item, res listing.Result) Decision {
	return Evaluate(e.tol, item, res)
}

// ValidateCandidate checks cand against item with the engine's tolerance.
func (e *Engine) ValidateCandidate(item *model.Item, cand *model.AlternativeCandidate) error {
	return ValidateCandidate(e.tol, item, cand)
}

// Apply validates cand and substitutes it into item. The item is only
// modified once the change is persisted. The pre-substitution record is
// snapshotted on the first substitution and kept across later ones.
func (e *Engine) Apply(ctx context.Context, item *model.Item, cand *model.AlternativeCandidate, reason string) error {
	if err := e.ValidateCandidate(item, cand); err != nil {
		return err
	}
	price, _ := cand.KnownPrice()
	now := e.now().UTC()

	next := *item
	if next.OriginalExternalKey == "" {
		next.OriginalExternalKey = item.ExternalKey
	}
	next.ExternalKey = cand.AlternativeKey
	if cand.AlternativeName != "" {
		next.Name = cand.AlternativeName
	}
	next.Price = price
	next.PriceSource = PriceSourceSubstitution
	next.PriceUpdatedAt = &now
	if e.cache != nil {
		expires := now.Add(e.cache.TTL())
		next.CacheExpiresAt = &expires
	}
	next.Substituted = true
	next.SubstitutionReason = reasonOr(reason, "substituted")

	snap := model.ItemSnapshot{
		ID:        uuid.New().String(),
		ItemID:    item.ID,
		Item:      *item,
		CreatedAt: now,
	}
	if err := e.store.SubstituteItem(ctx, &next, snap); err != nil {
		return eris.Wrapf(err, "substitution: apply to item %s", item.ID)
	}
	*item = next

	if e.cache != nil {
		e.cache.Put(ctx, cand.AlternativeKey, price, PriceSourceSubstitution, listing.ProductURL(listing.DefaultBaseURL, cand.AlternativeKey), now)
	}
	e.log.Info("substitution applied",
		zap.String("item_id", item.ID),
		zap.String("original_key", item.OriginalExternalKey),
		zap.String("alternative_key", cand.AlternativeKey),
		zap.Float64("price", price),
		zap.String("reason", item.SubstitutionReason),
	)
	return nil
}

// Restore reverses a substitution. The first snapshot is authoritative;
// without one the on-row original key and price are used.
func (e *Engine) Restore(ctx context.Context, item *model.Item) error {
	if !item.Substituted {
		return eris.Wrapf(ErrNotSubstituted, "item %s", item.ID)
	}

	snap, err := e.store.GetSnapshot(ctx, item.ID)
	if err != nil {
		return eris.Wrapf(err, "substitution: load snapshot for item %s", item.ID)
	}

	restored := *item
	switch {
	case snap != nil:
		restored.Name = snap.Item.Name
		restored.ExternalKey = snap.Item.ExternalKey
		restored.Price = snap.Item.Price
		restored.PriceSource = snap.Item.PriceSource
		restored.PriceUpdatedAt = snap.Item.PriceUpdatedAt
		restored.CacheExpiresAt = snap.Item.CacheExpiresAt
	case item.OriginalExternalKey != "" && item.OriginalPrice > 0:
		restored.ExternalKey = item.OriginalExternalKey
		restored.Price = item.OriginalPrice
		restored.PriceSource = ""
	default:
		return eris.Wrapf(ErrNoOriginal, "item %s", item.ID)
	}
	restored.Substituted = false
	restored.SubstitutionReason = ""

	if err := e.store.RestoreItem(ctx, &restored); err != nil {
		return eris.Wrapf(err, "substitution: restore item %s", item.ID)
	}
	e.log.Info("substitution restored",
		zap.String("item_id", item.ID),
		zap.String("from_key", item.ExternalKey),
		zap.String("to_key", restored.ExternalKey),
		zap.Bool("from_snapshot", snap != nil),
	)
	*item = restored
	return nil
}

// Stats counts substituted items by reason and tier within filter.
func (e *Engine) Stats(ctx context.Context, filter model.ItemFilter) (*model.SubstitutionStats, error) {
	stats, err := e.store.SubstitutionStats(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "substitution: stats")
	}
	return stats, nil
}

func reasonOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
