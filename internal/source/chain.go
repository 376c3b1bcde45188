package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/pricecache"
	"github.com/partwise/pricing-cli/internal/resilience"
)

// SourceAlternative is the price source recorded for fallback prices.
const SourceAlternative = "alternative"

// ErrUnresolved is returned when neither the cache, any provider nor the
// fallback produced a plausible price.
var ErrUnresolved = eris.New("source: price unresolved")

// Fallback supplies a substitute listing when every provider failed.
// Candidates accept rejects are skipped. A nil candidate with a nil error
// means "no alternative".
type Fallback interface {
	Resolve(ctx context.Context, item *model.Item, accept func(*model.AlternativeCandidate) bool) (*model.AlternativeCandidate, error)
}

// Options tunes the chain. Zero values take the defaults noted per field.
type Options struct {
	ProviderTimeout  time.Duration // 15s
	DelayMin         time.Duration // 2s
	DelayMax         time.Duration // 6s
	RateLimitBackoff time.Duration // 30s, when the source gave no Retry-After
	MaxBackoff       time.Duration // 5m cap on any single wait
	MinPlausible     float64       // 1.00
	MaxPlausible     float64       // 20000
	BaseURL          string        // listing.DefaultBaseURL
}

func (o Options) withDefaults() Options {
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 15 * time.Second
	}
	if o.DelayMin <= 0 && o.DelayMax <= 0 {
		o.DelayMin, o.DelayMax = 2*time.Second, 6*time.Second
	}
	if o.DelayMax < o.DelayMin {
		o.DelayMax = o.DelayMin
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.MinPlausible <= 0 {
		o.MinPlausible = 1
	}
	if o.MaxPlausible <= 0 {
		o.MaxPlausible = 20000
	}
	if o.BaseURL == "" {
		o.BaseURL = listing.DefaultBaseURL
	}
	return o
}

// Plausible reports whether price lies inside the configured bounds.
func (o Options) Plausible(price float64) bool {
	return price >= o.MinPlausible && price <= o.MaxPlausible
}

// Attempt records what one provider did during a resolution pass.
type Attempt struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
}

// Attempt outcomes.
const (
	OutcomePrice       = "price"
	OutcomeUnavailable = "unavailable"
	OutcomeNoPrice     = "no_price"
	OutcomeImplausible = "implausible"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeCircuitOpen = "circuit_open"
)

// Resolution is the outcome of ResolvePrice.
type Resolution struct {
	ExternalKey string    `json:"external_key"`
	Price       float64   `json:"price"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	FromCache   bool      `json:"from_cache"`

	// Fallback is set when the price belongs to Candidate rather than to
	// the requested key.
	Fallback  bool                        `json:"fallback"`
	Candidate *model.AlternativeCandidate `json:"candidate,omitempty"`

	// Unavailable is set when at least one provider read the listing and
	// found it not purchasable.
	Unavailable bool      `json:"unavailable"`
	Attempts    []Attempt `json:"attempts,omitempty"`

	// FallbackTried is set when the fallback was consulted, whatever it
	// returned.
	FallbackTried bool `json:"fallback_tried,omitempty"`
}

// Resolved reports whether a price was found.
func (r *Resolution) Resolved() bool {
	return r != nil && r.Price > 0
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithBreakers skips providers whose circuit is open.
func WithBreakers(b *resilience.ServiceBreakers) ChainOption {
	return func(c *Chain) { c.breakers = b }
}

// WithFallback sets the last-resort alternative lookup.
func WithFallback(f Fallback) ChainOption {
	return func(c *Chain) { c.fallback = f }
}

// WithSleep replaces the inter-provider wait (for tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ChainOption {
	return func(c *Chain) { c.sleep = fn }
}

// Chain consults the price cache and then each provider in order.
type Chain struct {
	cache     *pricecache.Cache
	providers []PriceProvider
	breakers  *resilience.ServiceBreakers
	fallback  Fallback
	opts      Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	log   *zap.Logger
}

// NewChain creates a Chain. Providers are tried in the order given.
func NewChain(cache *pricecache.Cache, providers []PriceProvider, opts Options, chainOpts ...ChainOption) *Chain {
	c := &Chain{
		cache:     cache,
		providers: providers,
		opts:      opts.withDefaults(),
		sleep:     sleepCtx,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "source")),
	}
	for _, o := range chainOpts {
		o(c)
	}
	return c
}

// Options returns the effective options.
func (c *Chain) Options() Options { return c.opts }

// Providers returns the provider names in order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// ResolvePrice resolves a price for key. With force unset a fresh cache
// entry is returned without contacting any provider.
func (c *Chain) ResolvePrice(ctx context.Context, key string, force bool) (*Resolution, error) {
	return c.ResolveItem(ctx, &model.Item{ExternalKey: key}, force)
}

// ResolveItem is ResolvePrice with the item available to the fallback.
// On ErrUnresolved the returned Resolution is still non-nil and carries
// the attempts and the Unavailable flag.
func (c *Chain) ResolveItem(ctx context.Context, item *model.Item, force bool) (*Resolution, error) {
	if item == nil || item.ExternalKey == "" {
		return nil, eris.New("source: empty external key")
	}
	key := item.ExternalKey
	log := c.log.With(zap.String("external_key", key))

	if !force {
		if e, ok := c.cache.Get(ctx, key); ok {
			log.Debug("price served from cache", zap.Float64("price", e.Price), zap.String("source", e.Source))
			return &Resolution{
				ExternalKey: key,
				Price:       e.Price,
				Source:      e.Source,
				URL:         e.SourceURL,
				CheckedAt:   e.CheckedAt,
				ExpiresAt:   e.ExpiresAt,
				FromCache:   true,
			}, nil
		}
	}

	res := &Resolution{ExternalKey: key}
	var (
		attempted bool
		pause     time.Duration
	)
	for _, p := range c.providers {
		var cb *resilience.CircuitBreaker
		if c.breakers != nil {
			cb = c.breakers.Get(p.Name())
			if err := cb.Allow(); err != nil {
				res.Attempts = append(res.Attempts, Attempt{Provider: p.Name(), Outcome: OutcomeCircuitOpen})
				continue
			}
		}

		if attempted {
			d := pause
			if d <= 0 {
				d = resilience.Jitter(c.opts.DelayMin, c.opts.DelayMax)
			}
			if err := c.sleep(ctx, min(d, c.opts.MaxBackoff)); err != nil {
				return nil, eris.Wrap(err, "source: wait between providers")
			}
		}
		attempted, pause = true, 0

		q, err := c.lookup(ctx, p, key)
		if cb != nil {
			cb.Record(err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "source: resolution cancelled")
			}
			outcome := OutcomeError
			if rl, ok := resilience.AsRateLimit(err); ok {
				outcome = OutcomeRateLimited
				pause = rl.RetryAfter
				if pause <= 0 {
					pause = c.opts.RateLimitBackoff
				}
				if cb != nil {
					cb.Penalize(pause)
				}
			}
			log.Warn("provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.String("outcome", outcome),
				zap.Duration("backoff", pause),
				zap.Error(err),
			)
			res.Attempts = append(res.Attempts, Attempt{Provider: p.Name(), Outcome: outcome, Error: err.Error()})
			continue
		}

		price, ok := q.Price()
		switch {
		case ok && c.opts.Plausible(price):
			res.Attempts = append(res.Attempts, Attempt{Provider: p.Name(), Outcome: OutcomePrice})
			c.accept(ctx, res, key, price, q.Source, q.URL)
			res.Title = q.Listing.Title
			log.Info("price resolved",
				zap.String("provider", p.Name()),
				zap.Float64("price", price),
			)
			return res, nil
		case ok:
			log.Warn("implausible price discarded", zap.String("provider", p.Name()), zap.Float64("price", price))
			res.Attempts = append(res.Attempts, Attempt{Provider: p.Name(), Outcome: OutcomeImplausible})
		case q.Listing.Definitive() && !q.Listing.Available:
			res.Unavailable = true
			res.Attempts = append(res.Attempts, Attempt{Provider: p.Name(), Outcome: OutcomeUnavailable, Error: q.Listing.Reason})
		default:
			res.Attempts = append(res.Attempts, Attempt{Provider: p.Name(), Outcome: OutcomeNoPrice, Error: q.Listing.Reason})
		}
	}

	if c.fallback != nil {
		res.FallbackTried = true
		cand, err := c.fallback.Resolve(ctx, item, c.plausibleCandidate)
		if err != nil {
			log.Warn("fallback lookup failed", zap.Error(err))
		}
		if price, ok := cand.KnownPrice(); ok && c.opts.Plausible(price) {
			c.accept(ctx, res, cand.AlternativeKey, price, SourceAlternative, listing.ProductURL(c.opts.BaseURL, cand.AlternativeKey))
			res.Fallback = true
			res.Candidate = cand
			res.Title = cand.AlternativeName
			log.Info("fallback price resolved",
				zap.String("alternative_key", cand.AlternativeKey),
				zap.Float64("price", price),
			)
			return res, nil
		}
	}

	log.Info("price unresolved", zap.Bool("unavailable", res.Unavailable), zap.Int("attempts", len(res.Attempts)))
	return res, eris.Wrapf(ErrUnresolved, "key %s", key)
}

func (c *Chain) plausibleCandidate(cand *model.AlternativeCandidate) bool {
	price, ok := cand.KnownPrice()
	return ok && c.opts.Plausible(price)
}

func (c *Chain) lookup(ctx context.Context, p PriceProvider, key string) (*Quote, error) {
	pctx, cancel := context.WithTimeout(ctx, c.opts.ProviderTimeout)
	defer cancel()
	q, err := p.Lookup(pctx, key)
	if err == nil && q == nil {
		err = eris.Errorf("%s: empty quote", p.Name())
	}
	if err != nil && pctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = resilience.NewTransientError(eris.Wrapf(err, "%s: timed out after %s", p.Name(), c.opts.ProviderTimeout), 0)
	}
	return q, err
}

func (c *Chain) accept(ctx context.Context, res *Resolution, key string, price float64, source, url string) {
	e := c.cache.Put(ctx, key, price, source, url, c.now())
	res.Price, res.Source, res.URL = price, source, url
	res.CheckedAt, res.ExpiresAt = e.CheckedAt, e.ExpiresAt
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
