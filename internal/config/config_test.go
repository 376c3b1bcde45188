package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"marketplace", "jina", "firecrawl"}, cfg.Sources.Order)
	assert.Equal(t, 15, cfg.Sources.ProviderTimeoutSecs)
	assert.Equal(t, 2000, cfg.Sources.DelayMinMs)
	assert.Equal(t, 6000, cfg.Sources.DelayMaxMs)
	assert.Equal(t, 30, cfg.Sources.RateLimitBackoffSecs)
	assert.InDelta(t, 1.0, cfg.Sources.MinPlausiblePrice, 0.001)
	assert.InDelta(t, 20000.0, cfg.Sources.MaxPlausiblePrice, 0.001)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://api.firecrawl.dev/v2", cfg.Firecrawl.BaseURL)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.Equal(t, 7, cfg.Cache.CleanupGraceDays)
	assert.InDelta(t, 50.0, cfg.Substitution.MaxPriceIncrease, 0.001)
	assert.InDelta(t, 20.0, cfg.Substitution.MaxPriceIncreasePct, 0.001)
	assert.InDelta(t, 1.0, cfg.Substitution.UpdateThresholdPct, 0.001)
	assert.InDelta(t, 3.0, cfg.Substitution.MinRating, 0.001)
	assert.Equal(t, 3, cfg.Alternatives.MaxSearchHits)
	assert.Equal(t, []string{"cpu", "gpu"}, cfg.Tiers.ATypes)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.TierA)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, "@every 96h", cfg.Scheduler.TierB)
	assert.Equal(t, "0 4 * * 0", cfg.Scheduler.CacheCleanup)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /var/lib/pricing.db
log:
  level: debug
  format: console
sources:
  order: [jina, marketplace]
substitution:
  max_price_increase: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/pricing.db", cfg.Store.SQLitePath)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"jina", "marketplace"}, cfg.Sources.Order)
	assert.InDelta(t, 30.0, cfg.Substitution.MaxPriceIncrease, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, 20.0, cfg.Substitution.MaxPriceIncreasePct, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PRICING_STORE_DRIVER", "postgres")
	t.Setenv("PRICING_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadPriceThresholdAlias(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PRICE_THRESHOLD", "15")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 15.0, cfg.Substitution.MaxPriceIncreasePct, 0.001)

	t.Setenv("PRICING_SUBSTITUTION_MAX_PRICE_INCREASE_PCT", "25")
	cfg, err = Load()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, cfg.Substitution.MaxPriceIncreasePct, 0.001)
}

func TestLoadAPIKeyAliases(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JINA_API_KEY", "jina_abc")
	t.Setenv("FIRECRAWL_API_KEY", "fc-abc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "jina_abc", cfg.Jina.Key)
	assert.Equal(t, "fc-abc", cfg.Firecrawl.Key)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/pricing"
	cfg.Server.Port = 8080
	cfg.Sources.Order = []string{"marketplace", "jina", "firecrawl"}
	cfg.Sources.DelayMinMs, cfg.Sources.DelayMaxMs = 2000, 6000
	cfg.Sources.MinPlausiblePrice, cfg.Sources.MaxPlausiblePrice = 1, 20000
	cfg.Alternatives.PhraseDelayMinMs, cfg.Alternatives.PhraseDelayMaxMs = 1000, 3000
	cfg.Substitution = SubstitutionConfig{MaxPriceIncrease: 50, MaxPriceIncreasePct: 20, UpdateThresholdPct: 1, MinRating: 3}
	cfg.Cache.TTLHours = 24
	cfg.Scheduler.TierA = "0 3 * * *"
	cfg.Scheduler.TierB = "@every 96h"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
	assert.NoError(t, validDefaults().Validate("cli"))
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store.driver")
}

func TestValidate_Sources(t *testing.T) {
	cfg := validDefaults()
	cfg.Sources.Order = nil
	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider")

	cfg.Sources.Order = []string{"marketplace", "scraperapi", "marketplace"}
	err = cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "scraperapi"`)
	assert.Contains(t, err.Error(), `"marketplace" listed twice`)

	cfg = validDefaults()
	cfg.Sources.MinPlausiblePrice = 500
	cfg.Sources.MaxPlausiblePrice = 100
	err = cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plausible price range")
}

func TestValidate_Tolerances(t *testing.T) {
	cfg := validDefaults()
	cfg.Substitution.MaxPriceIncreasePct = -5
	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tolerances must be >= 0")

	cfg = validDefaults()
	cfg.Substitution.MinRating = 6
	assert.Error(t, cfg.Validate("cli"))
}

func TestValidate_Cadences(t *testing.T) {
	cfg := validDefaults()
	cfg.Scheduler.CacheCleanup = "weekly on sunday"
	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.cache_cleanup")

	cfg = validDefaults()
	cfg.Scheduler.TierB = ""
	assert.NoError(t, cfg.Validate("cli"))
}

func TestValidate_FailureRateThreshold(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.FailureRateThreshold = 1.5
	err := cfg.Validate("cli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Cache.TTLHours = 0
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "cache.ttl_hours must be > 0")
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestCacheDurations(t *testing.T) {
	c := CacheConfig{TTLHours: 24, CleanupGraceDays: 7}
	assert.Equal(t, "24h0m0s", c.TTL().String())
	assert.Equal(t, "168h0m0s", c.CleanupGrace().String())
}
