package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/alternative"
	"github.com/partwise/pricing-cli/internal/config"
	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/pricecache"
	"github.com/partwise/pricing-cli/internal/refresh"
	"github.com/partwise/pricing-cli/internal/resilience"
	"github.com/partwise/pricing-cli/internal/source"
	"github.com/partwise/pricing-cli/internal/store"
	"github.com/partwise/pricing-cli/internal/substitution"
	"github.com/partwise/pricing-cli/pkg/firecrawl"
	"github.com/partwise/pricing-cli/pkg/jina"
)

// appEnv holds the wired engine. Callers should defer env.Close().
type appEnv struct {
	Store        store.Store
	Cache        *pricecache.Cache
	Listing      *listing.Resolver
	Breakers     *resilience.ServiceBreakers
	Chain        *source.Chain
	Engine       *substitution.Engine
	Alternatives *alternative.Resolver
	Service      *refresh.Service
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store, retrying transient connection
// failures.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		retry := resilience.FromRetryConfig(cfg.Store.ConnectRetries, 1000, 10000)
		retry.ShouldRetry = func(error) bool { return true }
		retry.OnRetry = resilience.RetryLogger("postgres", "connect")
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (store.Store, error) {
			return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: cfg.Store.MaxConns,
				MinConns: cfg.Store.MinConns,
			})
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv wires store, cache, providers, alternatives and the refresh
// service from cfg.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return buildEnv(cfg, st), nil
}

func buildEnv(c *config.Config, st store.Store) *appEnv {
	env := &appEnv{Store: st}
	env.Cache = pricecache.New(st, pricecache.WithTTL(c.Cache.TTL()))

	fetcher := listing.NewHTTPFetcher(listing.HTTPOptions{
		UserAgent:         c.Marketplace.UserAgent,
		AcceptLanguage:    c.Marketplace.AcceptLanguage,
		Timeout:           seconds(c.Marketplace.TimeoutSecs),
		RequestsPerSecond: c.Marketplace.RequestsPerSecond,
		DefaultBackoff:    seconds(c.Sources.RateLimitBackoffSecs),
	})
	env.Listing = listing.NewResolver(fetcher, c.Marketplace.BaseURL)

	jinaOpts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL)}
	if c.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(c.Jina.Key, jinaOpts...)

	var fcClient firecrawl.Client
	if c.Firecrawl.Key != "" {
		fcClient = firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
	}

	var searcher alternative.Searcher
	if c.Jina.Key != "" {
		searcher = alternative.NewJinaSearcher(jinaClient, env.Listing, c.Alternatives.SearchSite, c.Alternatives.MaxSearchHits)
	} else {
		zap.L().Debug("PRICING_JINA_KEY not set, alternative query search disabled")
	}

	tol := substitution.Tolerance{
		MaxIncrease:        c.Substitution.MaxPriceIncrease,
		MaxIncreasePct:     c.Substitution.MaxPriceIncreasePct,
		UpdateThresholdPct: c.Substitution.UpdateThresholdPct,
		MinRating:          c.Substitution.MinRating,
	}
	env.Engine = substitution.NewEngine(st, env.Cache, tol)
	env.Alternatives = alternative.NewResolver(st, env.Cache, env.Listing, searcher, alternative.Options{
		PhraseDelayMin: millis(c.Alternatives.PhraseDelayMinMs),
		PhraseDelayMax: millis(c.Alternatives.PhraseDelayMaxMs),
	})

	env.Breakers = resilience.NewServiceBreakers(
		resilience.FromCircuitConfig(c.Sources.BreakerFailureThreshold, c.Sources.BreakerResetSecs))
	providers := buildProviders(c, env.Listing, jinaClient, fcClient)
	env.Chain = source.NewChain(env.Cache, providers, source.Options{
		ProviderTimeout:  seconds(c.Sources.ProviderTimeoutSecs),
		DelayMin:         millis(c.Sources.DelayMinMs),
		DelayMax:         millis(c.Sources.DelayMaxMs),
		RateLimitBackoff: seconds(c.Sources.RateLimitBackoffSecs),
		MaxBackoff:       seconds(c.Sources.MaxBackoffSecs),
		MinPlausible:     c.Sources.MinPlausiblePrice,
		MaxPlausible:     c.Sources.MaxPlausiblePrice,
		BaseURL:          c.Marketplace.BaseURL,
	}, source.WithBreakers(env.Breakers), source.WithFallback(env.Alternatives))

	env.Service = refresh.NewService(st, env.Chain, env.Engine, env.Alternatives, env.Listing, env.Cache, refresh.Options{
		BatchLimit: c.Scheduler.BatchLimit,
		CacheGrace: c.Cache.CleanupGrace(),
		Tiers: refresh.TierRules{
			ATypes:       c.Tiers.ATypes,
			AMinPrice:    c.Tiers.AMinPrice,
			AAnyMinPrice: c.Tiers.AAnyMinPrice,
			BTypes:       c.Tiers.BTypes,
			BMinPrice:    c.Tiers.BMinPrice,
		},
	})
	return env
}

// buildProviders returns the providers in configured order. Firecrawl is
// skipped without an API key.
func buildProviders(c *config.Config, resolver *listing.Resolver, jinaClient jina.Client, fcClient firecrawl.Client) []source.PriceProvider {
	var providers []source.PriceProvider
	for _, name := range c.Sources.Order {
		switch name {
		case source.ProviderMarketplace:
			providers = append(providers, source.NewMarketplaceProvider(resolver))
		case source.ProviderJina:
			providers = append(providers, source.NewJinaProvider(jinaClient, c.Marketplace.BaseURL))
		case source.ProviderFirecrawl:
			if fcClient == nil {
				zap.L().Warn("PRICING_FIRECRAWL_KEY not set, firecrawl provider disabled")
				continue
			}
			providers = append(providers, source.NewFirecrawlProvider(fcClient, c.Marketplace.BaseURL, c.Marketplace.Country, c.Firecrawl.WaitForMs))
		}
	}
	return providers
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
