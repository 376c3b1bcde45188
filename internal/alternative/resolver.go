// Package alternative finds a substitute listing for an item, first from
// the ranked static candidate list and then from the item's own
// OR-separated search expression.
package alternative

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/pricecache"
	"github.com/partwise/pricing-cli/internal/resilience"
)

// SourceLiveCheck is the cache source recorded for prices read while
// refreshing a candidate.
const SourceLiveCheck = "alternative_check"

// CandidateStore is the persistence the resolver needs.
type CandidateStore interface {
	ListCandidates(ctx context.Context, originalKey, componentType string) ([]model.AlternativeCandidate, error)
	UpdateCandidatePrice(ctx context.Context, id int64, price float64, rating *float64, checkedAt time.Time) error
}

// Options tunes the resolver.
type Options struct {
	PhraseDelayMin time.Duration // 1s
	PhraseDelayMax time.Duration // 3s
}

// Accept reports whether a found candidate may be used. A rejected
// candidate is skipped and the lookup moves on to the next one.
type Accept = func(cand *model.AlternativeCandidate) bool

// Resolver implements the two-stage alternative lookup.
type Resolver struct {
	store    CandidateStore
	cache    *pricecache.Cache
	checker  ListingChecker
	searcher Searcher
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	log   *zap.Logger
}

// NewResolver creates a Resolver. cache and searcher may be nil.
func NewResolver(store CandidateStore, cache *pricecache.Cache, checker ListingChecker, searcher Searcher, opts Options) *Resolver {
	if opts.PhraseDelayMin <= 0 && opts.PhraseDelayMax <= 0 {
		opts.PhraseDelayMin, opts.PhraseDelayMax = time.Second, 3*time.Second
	}
	return &Resolver{
		store:    store,
		cache:    cache,
		checker:  checker,
		searcher: searcher,
		opts:     opts,
		sleep:    sleepCtx,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "alternative")),
	}
}

// Resolve returns the best alternative for item that accept allows, or
// nil when neither the static list nor the search expression yields one.
// A nil accept allows every candidate.
func (r *Resolver) Resolve(ctx context.Context, item *model.Item, accept Accept) (*model.AlternativeCandidate, error) {
	if item == nil {
		return nil, eris.New("alternative: nil item")
	}
	if accept == nil {
		accept = func(*model.AlternativeCandidate) bool { return true }
	}
	log := r.log.With(zap.String("item_id", item.ID), zap.String("external_key", item.ExternalKey))

	cand, staticErr := r.fromStatic(ctx, item, accept)
	if staticErr != nil {
		log.Warn("static alternatives unavailable", zap.Error(staticErr))
	}
	if cand != nil {
		log.Info("static alternative selected",
			zap.String("alternative_key", cand.AlternativeKey),
			zap.Int("priority", cand.Priority),
		)
		return cand, nil
	}

	if item.AlternativeQuery != "" && r.searcher != nil {
		cand, err := r.fromQuery(ctx, item, accept)
		if err != nil {
			return nil, err
		}
		if cand != nil {
			return cand, nil
		}
	}

	if staticErr != nil {
		return nil, staticErr
	}
	log.Info("no alternative found")
	return nil, nil
}

// Candidates returns the ranked static candidates for item, excluding its
// own listing. Prices missing on a candidate are filled from the cache.
func (r *Resolver) Candidates(ctx context.Context, item *model.Item) ([]model.AlternativeCandidate, error) {
	rows, err := r.store.ListCandidates(ctx, item.ExternalKey, item.ComponentType)
	if err != nil {
		return nil, eris.Wrap(err, "alternative: list candidates")
	}
	out := rows[:0]
	for _, c := range rows {
		if !c.Active || c.AlternativeKey == item.ExternalKey || c.AlternativeKey == item.OriginalExternalKey {
			continue
		}
		if _, ok := c.KnownPrice(); !ok && r.cache != nil {
			if e, hit := r.cache.Get(ctx, c.AlternativeKey); hit {
				price := e.Price
				c.Price = &price
			}
		}
		out = append(out, c)
	}
	SortCandidates(out)
	return out, nil
}

// SortCandidates orders candidates by priority, then lowest known price
// with unknown prices last, then insertion order.
func SortCandidates(cands []model.AlternativeCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		pa, aok := a.KnownPrice()
		pb, bok := b.KnownPrice()
		if aok != bok {
			return aok
		}
		if aok && pa != pb {
			return pa < pb
		}
		return a.ID < b.ID
	})
}

func (r *Resolver) fromStatic(ctx context.Context, item *model.Item, accept Accept) (*model.AlternativeCandidate, error) {
	cands, err := r.Candidates(ctx, item)
	if err != nil {
		return nil, err
	}

	unpriced := -1
	for i := range cands {
		if _, ok := cands[i].KnownPrice(); !ok {
			if unpriced < 0 {
				unpriced = i
			}
			continue
		}
		c := cands[i]
		if accept(&c) {
			return &c, nil
		}
		r.log.Debug("static alternative rejected",
			zap.String("item_id", item.ID),
			zap.String("alternative_key", c.AlternativeKey),
			zap.Int("priority", c.Priority),
		)
	}

	// No priced candidate passed: one live check for the best unpriced one.
	if unpriced < 0 || r.checker == nil {
		return nil, nil
	}
	top := cands[unpriced]
	res := r.checker.CheckListing(ctx, top.AlternativeKey)
	if !res.InStock() {
		r.log.Info("top alternative not in stock",
			zap.String("alternative_key", top.AlternativeKey),
			zap.String("reason", res.Reason),
		)
		return nil, nil
	}

	now := r.now()
	top.Price = res.Price
	if res.Rating != nil {
		top.Rating = res.Rating
	}
	top.PriceCheckedAt = &now
	if err := r.store.UpdateCandidatePrice(ctx, top.ID, *res.Price, res.Rating, now); err != nil {
		r.log.Warn("persist alternative price failed", zap.Int64("candidate_id", top.ID), zap.Error(err))
	}
	if r.cache != nil {
		r.cache.Put(ctx, top.AlternativeKey, *res.Price, SourceLiveCheck, res.URL, now)
	}
	if !accept(&top) {
		return nil, nil
	}
	return &top, nil
}

func (r *Resolver) fromQuery(ctx context.Context, item *model.Item, accept Accept) (*model.AlternativeCandidate, error) {
	phrases, err := ParseQuery(item.AlternativeQuery)
	if err != nil {
		r.log.Warn("ignoring invalid alternative query", zap.String("item_id", item.ID), zap.Error(err))
		return nil, nil
	}

	for i, phrase := range phrases {
		if i > 0 {
			if err := r.sleep(ctx, resilience.Jitter(r.opts.PhraseDelayMin, r.opts.PhraseDelayMax)); err != nil {
				return nil, eris.Wrap(err, "alternative: wait between phrases")
			}
		}
		cand, err := r.searcher.Search(ctx, phrase)
		if err != nil {
			r.log.Warn("phrase search failed", zap.String("phrase", phrase), zap.Error(err))
			continue
		}
		if cand == nil || cand.AlternativeKey == item.ExternalKey {
			continue
		}
		if cand.ComponentType == "" {
			cand.ComponentType = item.ComponentType
		}
		if !accept(cand) {
			r.log.Info("query alternative rejected",
				zap.String("item_id", item.ID),
				zap.String("phrase", phrase),
				zap.String("alternative_key", cand.AlternativeKey),
			)
			continue
		}
		r.log.Info("query alternative selected",
			zap.String("item_id", item.ID),
			zap.String("phrase", phrase),
			zap.String("alternative_key", cand.AlternativeKey),
		)
		return cand, nil
	}
	return nil, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
