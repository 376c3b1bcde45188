package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partwise/pricing-cli/internal/config"
	"github.com/partwise/pricing-cli/internal/listing"
	"github.com/partwise/pricing-cli/internal/monitoring"
	"github.com/partwise/pricing-cli/internal/source"
	"github.com/partwise/pricing-cli/pkg/firecrawl"
	"github.com/partwise/pricing-cli/pkg/jina"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = filepath.Join(t.TempDir(), "cmd.db")
	c.Sources.Order = []string{"marketplace", "jina", "firecrawl"}
	c.Sources.DelayMinMs, c.Sources.DelayMaxMs = 2000, 6000
	c.Sources.MinPlausiblePrice, c.Sources.MaxPlausiblePrice = 1, 20000
	c.Alternatives.PhraseDelayMinMs, c.Alternatives.PhraseDelayMaxMs = 1000, 3000
	c.Substitution = config.SubstitutionConfig{MaxPriceIncrease: 50, MaxPriceIncreasePct: 20, UpdateThresholdPct: 1, MinRating: 3}
	c.Cache = config.CacheConfig{TTLHours: 24, CleanupGraceDays: 7}
	c.Scheduler.TierA = "0 3 * * *"
	return c
}

func providerNames(ps []source.PriceProvider) []string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name())
	}
	return names
}

func TestBuildProviders_ConfiguredOrder(t *testing.T) {
	c := testConfig(t)
	c.Sources.Order = []string{"jina", "firecrawl", "marketplace"}
	resolver := listing.NewResolver(listing.NewHTTPFetcher(listing.HTTPOptions{}), "")

	ps := buildProviders(c, resolver, jina.NewClient(""), firecrawl.NewClient("fc-key"))
	assert.Equal(t, []string{"jina", "firecrawl", "marketplace"}, providerNames(ps))
}

func TestBuildProviders_FirecrawlNeedsKey(t *testing.T) {
	c := testConfig(t)
	resolver := listing.NewResolver(listing.NewHTTPFetcher(listing.HTTPOptions{}), "")

	ps := buildProviders(c, resolver, jina.NewClient(""), nil)
	assert.Equal(t, []string{"marketplace", "jina"}, providerNames(ps))
}

func TestInitEnv_SQLite(t *testing.T) {
	cfg = testConfig(t)
	t.Cleanup(func() { cfg = nil })

	env, err := initEnv(context.Background(), "cli")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Service)
	assert.Equal(t, []string{"marketplace", "jina"}, env.Chain.Providers())

	sched, err := newScheduler(env)
	require.NoError(t, err)
	assert.Len(t, sched.Status(), 4)

	require.NotNil(t, newChecker(env))
	snap, err := monitoring.NewCollector(env.Store, env.Breakers).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.JobsTotal)
	assert.Empty(t, snap.OpenSources)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.Sources.Order = []string{"scraperapi"}
	t.Cleanup(func() { cfg = nil })

	_, err := initEnv(context.Background(), "cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
