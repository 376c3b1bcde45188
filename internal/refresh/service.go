// Package refresh orchestrates price refreshes: cache and provider lookup,
// the substitution decision, alternative lookup and persistence, per item
// and per tier batch.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/pricecache"
	"github.com/partwise/pricing-cli/internal/source"
	"github.com/partwise/pricing-cli/internal/substitution"
)

// Outcome is the terminal state of one item refresh.
type Outcome string

const (
	OutcomeKept         Outcome = "kept"
	OutcomePriceUpdated Outcome = "price_updated"
	OutcomeSubstituted  Outcome = "substituted"
	OutcomeUnresolved   Outcome = "unresolved"
	OutcomeFailed       Outcome = "failed"
)

// ReasonNoSubstitute is reported when a substitution was warranted but no
// candidate passed validation.
const ReasonNoSubstitute = "no substitute found"

// ErrNoCandidate is returned by ApplySubstitution when no alternative exists.
var ErrNoCandidate = eris.New("refresh: no alternative candidate")

// Store is the item persistence the service needs.
type Store interface {
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, filter model.ItemFilter) ([]model.Item, error)
	UpdateItem(ctx context.Context, item *model.Item) error
}

// PriceResolver resolves a price for an item (source.Chain).
type PriceResolver interface {
	ResolveItem(ctx context.Context, item *model.Item, force bool) (*source.Resolution, error)
}

// AlternativeFinder supplies the best substitute candidate that accept
// allows (alternative.Resolver).
type AlternativeFinder interface {
	Resolve(ctx context.Context, item *model.Item, accept func(*model.AlternativeCandidate) bool) (*model.AlternativeCandidate, error)
}

// ListingChecker performs a live listing check (listing.Resolver).
type ListingChecker interface {
	CheckListing(ctx context.Context, key string) listing.Result
}

// Options tunes the service.
type Options struct {
	BatchLimit int
	CacheGrace time.Duration // 7 days
	Tiers      TierRules
}

// ItemResult is the outcome of refreshing one item.
type ItemResult struct {
	ItemID         string                 `json:"item_id"`
	ExternalKey    string                 `json:"external_key"`
	Outcome        Outcome                `json:"outcome"`
	Action         substitution.Action    `json:"action,omitempty"`
	OldPrice       float64                `json:"old_price"`
	NewPrice       float64                `json:"new_price"`
	Source         string                 `json:"source,omitempty"`
	FromCache      bool                   `json:"from_cache,omitempty"`
	SubstitutedKey string                 `json:"substituted_key,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Attempts       []source.Attempt       `json:"attempts,omitempty"`
	Decision       *substitution.Decision `json:"decision,omitempty"`
}

// BatchReport aggregates one batch run.
type BatchReport struct {
	Job         string       `json:"job"`
	Total       int          `json:"total"`
	Success     int          `json:"success"`
	Failed      int          `json:"failed"`
	Unresolved  int          `json:"unresolved"`
	Substituted int          `json:"substituted"`
	Results     []ItemResult `json:"results"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

func (r *BatchReport) add(res ItemResult) {
	r.Total++
	switch res.Outcome {
	case OutcomeFailed:
		r.Failed++
	case OutcomeUnresolved:
		r.Unresolved++
	case OutcomeSubstituted:
		r.Substituted++
		r.Success++
	default:
		r.Success++
	}
	r.Results = append(r.Results, res)
}

// Proposal is the result of a live availability check: what the engine
// would do, and the candidate it would substitute. Nothing is applied.
type Proposal struct {
	Item              *model.Item                 `json:"item"`
	Listing           listing.Result              `json:"listing"`
	Decision          substitution.Decision       `json:"decision"`
	Candidate         *model.AlternativeCandidate `json:"candidate,omitempty"`
	CandidateRejected string                      `json:"candidate_rejected,omitempty"`
}

// TierReport summarizes a tier assignment pass.
type TierReport struct {
	Total   int                `json:"total"`
	Changed int                `json:"changed"`
	Failed  int                `json:"failed"`
	ByTier  map[model.Tier]int `json:"by_tier"`
}

// Service runs refreshes.
type Service struct {
	store        Store
	chain        PriceResolver
	engine       *substitution.Engine
	alternatives AlternativeFinder
	checker      ListingChecker
	cache        *pricecache.Cache
	opts         Options

	now func() time.Time
	log *zap.Logger
}

// NewService creates a Service.
func NewService(store Store, chain PriceResolver, engine *substitution.Engine, alternatives AlternativeFinder, checker ListingChecker, cache *pricecache.Cache, opts Options) *Service {
	if opts.CacheGrace <= 0 {
		opts.CacheGrace = 7 * 24 * time.Hour
	}
	return &Service{
		store:        store,
		chain:        chain,
		engine:       engine,
		alternatives: alternatives,
		checker:      checker,
		cache:        cache,
		opts:         opts,
		now:          time.Now,
		log:          zap.L().With(zap.String("component", "refresh")),
	}
}

// RefreshItem refreshes one item by id.
func (s *Service) RefreshItem(ctx context.Context, id string, force bool) ItemResult {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return ItemResult{ItemID: id, Outcome: OutcomeFailed, Error: eris.Wrap(err, "load item").Error()}
	}
	return s.refresh(ctx, item, force)
}

// RefreshTier refreshes every item of tier sequentially, oldest refresh
// first. Item failures are recorded and the batch continues; only a
// failure to list the items aborts it.
func (s *Service) RefreshTier(ctx context.Context, tier model.Tier) (*BatchReport, error) {
	report := &BatchReport{Job: "refresh_tier_" + string(tier), StartedAt: s.now().UTC()}
	items, err := s.store.ListItems(ctx, model.ItemFilter{Tier: tier, Limit: s.opts.BatchLimit})
	if err != nil {
		return nil, eris.Wrapf(err, "refresh: list tier %s items", tier)
	}

	s.log.Info("tier refresh started", zap.String("tier", string(tier)), zap.Int("items", len(items)))
	for i := range items {
		report.add(s.refreshIsolated(ctx, &items[i]))
	}
	report.FinishedAt = s.now().UTC()

	s.log.Info("tier refresh complete",
		zap.String("tier", string(tier)),
		zap.Int("total", report.Total),
		zap.Int("success", report.Success),
		zap.Int("failed", report.Failed),
		zap.Int("unresolved", report.Unresolved),
		zap.Int("substituted", report.Substituted),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// refreshIsolated turns a panic in one item into that item's failure.
func (s *Service) refreshIsolated(ctx context.Context, item *model.Item) (res ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("item refresh panicked", zap.String("item_id", item.ID), zap.Any("panic", r))
			res = ItemResult{
				ItemID:      item.ID,
				ExternalKey: item.ExternalKey,
				Outcome:     OutcomeFailed,
				OldPrice:    item.Price,
				Error:       fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return s.refresh(ctx, item, false)
}

func (s *Service) refresh(ctx context.Context, item *model.Item, force bool) ItemResult {
	log := s.log.With(zap.String("item_id", item.ID), zap.String("external_key", item.ExternalKey))
	out := ItemResult{ItemID: item.ID, ExternalKey: item.ExternalKey, OldPrice: item.Price, NewPrice: item.Price}

	res, err := s.chain.ResolveItem(ctx, item, force)
	if res != nil {
		out.Source, out.FromCache, out.Attempts = res.Source, res.FromCache, res.Attempts
	}

	var (
		lr        listing.Result
		candidate *model.AlternativeCandidate
	)
	switch {
	case err == nil && res.Fallback && res.Unavailable:
		lr = listing.Result{Reason: unavailableReason(res)}
		candidate = res.Candidate
	case err == nil && res.Fallback:
		// Every provider failed without reading the listing; the fallback
		// price says nothing about the item itself.
		out.Source = ""
		lr = listing.Result{Available: true}
	case err == nil:
		price := res.Price
		lr = listing.Result{Available: true, Price: &price, Reason: listing.ReasonInStock}
	case errors.Is(err, source.ErrUnresolved) && res != nil && res.Unavailable:
		lr = listing.Result{Reason: unavailableReason(res)}
	case errors.Is(err, source.ErrUnresolved):
		lr = listing.Result{Available: true}
	default:
		log.Warn("price resolution failed", zap.Error(err))
		out.Outcome, out.Error = OutcomeFailed, err.Error()
		return out
	}

	d := s.engine.Evaluate(item, lr)
	out.Action, out.Decision, out.Reason = d.Action, &d, d.Reason
	now := s.now().UTC()

	switch d.Action {
	case substitution.ActionKeep, substitution.ActionUpdatePrice:
		if d.Action == substitution.ActionUpdatePrice {
			item.Price = d.NewPrice
			out.Outcome = OutcomePriceUpdated
		} else {
			out.Outcome = OutcomeKept
		}
		item.PriceSource = res.Source
		checked := now
		if !res.CheckedAt.IsZero() {
			checked = res.CheckedAt.UTC()
		}
		item.PriceUpdatedAt = &checked
		expires := res.ExpiresAt
		if !expires.IsZero() {
			item.CacheExpiresAt = &expires
		}

	case substitution.ActionSubstitute:
		var verr error
		if candidate != nil {
			verr = s.engine.ValidateCandidate(item, candidate)
		}
		// A fallback that found nothing already searched; a rejected one
		// leaves lower ranked candidates to try.
		if candidate == nil && (res == nil || !res.FallbackTried) || verr != nil {
			found, rejected, lerr := s.findCandidate(ctx, item)
			if lerr != nil {
				log.Warn("alternative lookup failed", zap.Error(lerr))
			}
			candidate = found
			switch {
			case found != nil:
				verr = nil
			case rejected != nil:
				verr = rejected
			}
		}
		if candidate != nil && verr == nil {
			if err := s.engine.Apply(ctx, item, candidate, d.Reason); err != nil {
				out.Outcome, out.Error = OutcomeFailed, err.Error()
				return out
			}
			out.Outcome = OutcomeSubstituted
			out.SubstitutedKey = candidate.AlternativeKey
			out.NewPrice = item.Price
			return out
		}
		out.Outcome = OutcomeUnresolved
		out.Reason = d.Reason + ", " + ReasonNoSubstitute
		if verr != nil {
			out.Error = verr.Error()
		}
		item.PriceUpdatedAt = &now

	default:
		out.Outcome = OutcomeUnresolved
		item.PriceUpdatedAt = &now
	}

	if err := s.store.UpdateItem(ctx, item); err != nil {
		log.Error("persist refresh failed", zap.Error(err))
		out.Outcome, out.Error = OutcomeFailed, err.Error()
		out.NewPrice = out.OldPrice
		return out
	}
	out.NewPrice = item.Price
	log.Info("item refreshed",
		zap.String("outcome", string(out.Outcome)),
		zap.Float64("old_price", out.OldPrice),
		zap.Float64("new_price", out.NewPrice),
		zap.String("reason", out.Reason),
	)
	return out
}

// CheckItem runs a live listing check and evaluates it without applying
// anything. When a substitution is warranted the best validated
// candidate is proposed.
func (s *Service) CheckItem(ctx context.Context, id string) (*Proposal, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "refresh: load item %s", id)
	}
	p := &Proposal{Item: item, Listing: s.checker.CheckListing(ctx, item.ExternalKey)}
	p.Decision = s.engine.Evaluate(item, p.Listing)
	if p.Decision.Action != substitution.ActionSubstitute || s.alternatives == nil {
		return p, nil
	}

	cand, rejected, err := s.findCandidate(ctx, item)
	if err != nil {
		return nil, eris.Wrapf(err, "refresh: find alternative for %s", id)
	}
	switch {
	case cand != nil:
		p.Candidate = cand
	case rejected != nil:
		p.CandidateRejected = rejected.Error()
	default:
		p.CandidateRejected = ReasonNoSubstitute
	}
	return p, nil
}

// ApplySubstitution substitutes the best validated alternative into the
// item on operator request.
func (s *Service) ApplySubstitution(ctx context.Context, id string) (*model.Item, *model.AlternativeCandidate, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "refresh: load item %s", id)
	}
	if s.alternatives == nil {
		return nil, nil, eris.Wrapf(ErrNoCandidate, "item %s", id)
	}
	cand, rejected, err := s.findCandidate(ctx, item)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "refresh: find alternative for %s", id)
	}
	if cand == nil {
		if rejected != nil {
			return nil, nil, rejected
		}
		return nil, nil, eris.Wrapf(ErrNoCandidate, "item %s", id)
	}
	if err := s.engine.Apply(ctx, item, cand, "operator confirmed substitution"); err != nil {
		return nil, nil, err
	}
	return item, cand, nil
}

// findCandidate returns the highest ranked candidate that passes
// validation for item. When none does, rejected holds the first
// validation failure seen.
func (s *Service) findCandidate(ctx context.Context, item *model.Item) (cand *model.AlternativeCandidate, rejected error, err error) {
	if s.alternatives == nil {
		return nil, nil, nil
	}
	cand, err = s.alternatives.Resolve(ctx, item, func(c *model.AlternativeCandidate) bool {
		verr := s.engine.ValidateCandidate(item, c)
		if verr != nil && rejected == nil {
			rejected = verr
		}
		return verr == nil
	})
	if err != nil {
		return nil, rejected, err
	}
	return cand, rejected, nil
}

// unavailableReason names what a provider saw on the listing.
func unavailableReason(res *source.Resolution) string {
	for _, a := range res.Attempts {
		if a.Outcome == source.OutcomeUnavailable && a.Error != "" {
			return a.Error
		}
	}
	return listing.ReasonUnavailableMsg
}

// RestoreOriginal reverses the item's substitution.
func (s *Service) RestoreOriginal(ctx context.Context, id string) (*model.Item, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "refresh: load item %s", id)
	}
	if err := s.engine.Restore(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// SubstitutionStats reports substitutions within a build or tier scope.
func (s *Service) SubstitutionStats(ctx context.Context, filter model.ItemFilter) (*model.SubstitutionStats, error) {
	return s.engine.Stats(ctx, filter)
}

// AssignTiers recomputes every item's tier and persists the changes.
func (s *Service) AssignTiers(ctx context.Context) (*TierReport, error) {
	items, err := s.store.ListItems(ctx, model.ItemFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "refresh: list items for tier assignment")
	}
	rep := &TierReport{ByTier: make(map[model.Tier]int)}
	for i := range items {
		item := &items[i]
		rep.Total++
		tier := s.opts.Tiers.Assign(item)
		if tier == item.Tier {
			rep.ByTier[tier]++
			continue
		}
		from := item.Tier
		item.Tier = tier
		if err := s.store.UpdateItem(ctx, item); err != nil {
			s.log.Warn("persist tier failed", zap.String("item_id", item.ID), zap.Error(err))
			rep.Failed++
			rep.ByTier[from]++
			continue
		}
		rep.Changed++
		rep.ByTier[tier]++
	}
	s.log.Info("tiers assigned",
		zap.Int("total", rep.Total),
		zap.Int("changed", rep.Changed),
		zap.Int("failed", rep.Failed),
	)
	return rep, nil
}

// CleanupCache prunes cache rows expired longer than the grace period.
func (s *Service) CleanupCache(ctx context.Context) (int, error) {
	n, err := s.cache.Cleanup(ctx, s.opts.CacheGrace)
	if err != nil {
		return 0, eris.Wrap(err, "refresh: cache cleanup")
	}
	return n, nil
}
