package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Provider names accepted in sources.order.
var knownProviders = map[string]bool{"marketplace": true, "jina": true, "firecrawl": true}

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Marketplace  MarketplaceConfig  `yaml:"marketplace" mapstructure:"marketplace"`
	Sources      SourcesConfig      `yaml:"sources" mapstructure:"sources"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Firecrawl    FirecrawlConfig    `yaml:"firecrawl" mapstructure:"firecrawl"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Substitution SubstitutionConfig `yaml:"substitution" mapstructure:"substitution"`
	Alternatives AlternativesConfig `yaml:"alternatives" mapstructure:"alternatives"`
	Tiers        TiersConfig        `yaml:"tiers" mapstructure:"tiers"`
	Scheduler    SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath     string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
	ConnectRetries int    `yaml:"connect_retries" mapstructure:"connect_retries"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the admin API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MarketplaceConfig configures direct product page fetches.
type MarketplaceConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Country           string  `yaml:"country" mapstructure:"country"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	AcceptLanguage    string  `yaml:"accept_language" mapstructure:"accept_language"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// SourcesConfig configures the provider chain.
type SourcesConfig struct {
	Order                   []string `yaml:"order" mapstructure:"order"`
	ProviderTimeoutSecs     int      `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	DelayMinMs              int      `yaml:"delay_min_ms" mapstructure:"delay_min_ms"`
	DelayMaxMs              int      `yaml:"delay_max_ms" mapstructure:"delay_max_ms"`
	RateLimitBackoffSecs    int      `yaml:"rate_limit_backoff_secs" mapstructure:"rate_limit_backoff_secs"`
	MaxBackoffSecs          int      `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	MinPlausiblePrice       float64  `yaml:"min_plausible_price" mapstructure:"min_plausible_price"`
	MaxPlausiblePrice       float64  `yaml:"max_plausible_price" mapstructure:"max_plausible_price"`
	BreakerFailureThreshold int      `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int      `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// JinaConfig holds Jina Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	WaitForMs int    `yaml:"wait_for_ms" mapstructure:"wait_for_ms"`
}

// CacheConfig configures the price cache.
type CacheConfig struct {
	TTLHours         int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	CleanupGraceDays int `yaml:"cleanup_grace_days" mapstructure:"cleanup_grace_days"`
}

// SubstitutionConfig holds the substitution tolerances.
type SubstitutionConfig struct {
	MaxPriceIncrease    float64 `yaml:"max_price_increase" mapstructure:"max_price_increase"`
	MaxPriceIncreasePct float64 `yaml:"max_price_increase_pct" mapstructure:"max_price_increase_pct"`
	UpdateThresholdPct  float64 `yaml:"update_threshold_pct" mapstructure:"update_threshold_pct"`
	MinRating           float64 `yaml:"min_rating" mapstructure:"min_rating"`
}

// AlternativesConfig configures alternative lookup.
type AlternativesConfig struct {
	SearchSite       string `yaml:"search_site" mapstructure:"search_site"`
	MaxSearchHits    int    `yaml:"max_search_hits" mapstructure:"max_search_hits"`
	PhraseDelayMinMs int    `yaml:"phrase_delay_min_ms" mapstructure:"phrase_delay_min_ms"`
	PhraseDelayMaxMs int    `yaml:"phrase_delay_max_ms" mapstructure:"phrase_delay_max_ms"`
}

// TiersConfig holds the tier assignment rules.
type TiersConfig struct {
	ATypes       []string `yaml:"a_types" mapstructure:"a_types"`
	AMinPrice    float64  `yaml:"a_min_price" mapstructure:"a_min_price"`
	AAnyMinPrice float64  `yaml:"a_any_min_price" mapstructure:"a_any_min_price"`
	BTypes       []string `yaml:"b_types" mapstructure:"b_types"`
	BMinPrice    float64  `yaml:"b_min_price" mapstructure:"b_min_price"`
}

// SchedulerConfig holds job cadences. An empty cadence disables the
// schedule; the job can still be triggered manually.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	BatchLimit   int    `yaml:"batch_limit" mapstructure:"batch_limit"`
	TierA        string `yaml:"tier_a" mapstructure:"tier_a"`
	TierB        string `yaml:"tier_b" mapstructure:"tier_b"`
	CacheCleanup string `yaml:"cache_cleanup" mapstructure:"cache_cleanup"`
	AssignTiers  string `yaml:"assign_tiers" mapstructure:"assign_tiers"`
}

// MonitoringConfig configures webhook alerting on job runs and sources.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Un-prefixed aliases. Explicit names replace the prefixed one, so it
	// is listed first to keep precedence.
	_ = v.BindEnv("substitution.max_price_increase_pct", "PRICING_SUBSTITUTION_MAX_PRICE_INCREASE_PCT", "PRICE_THRESHOLD")
	_ = v.BindEnv("jina.key", "PRICING_JINA_KEY", "JINA_API_KEY")
	_ = v.BindEnv("firecrawl.key", "PRICING_FIRECRAWL_KEY", "FIRECRAWL_API_KEY")
	_ = v.BindEnv("store.database_url", "PRICING_STORE_DATABASE_URL", "DATABASE_URL")

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "pricing.db")
	v.SetDefault("store.connect_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("marketplace.base_url", "https://www.amazon.de")
	v.SetDefault("marketplace.country", "DE")
	v.SetDefault("marketplace.accept_language", "de-DE,de;q=0.9,en;q=0.8")
	v.SetDefault("marketplace.timeout_secs", 15)
	v.SetDefault("marketplace.requests_per_second", 0.5)
	v.SetDefault("sources.order", []string{"marketplace", "jina", "firecrawl"})
	v.SetDefault("sources.provider_timeout_secs", 15)
	v.SetDefault("sources.delay_min_ms", 2000)
	v.SetDefault("sources.delay_max_ms", 6000)
	v.SetDefault("sources.rate_limit_backoff_secs", 30)
	v.SetDefault("sources.max_backoff_secs", 300)
	v.SetDefault("sources.min_plausible_price", 1.0)
	v.SetDefault("sources.max_plausible_price", 20000.0)
	v.SetDefault("sources.breaker_failure_threshold", 5)
	v.SetDefault("sources.breaker_reset_secs", 300)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("firecrawl.wait_for_ms", 2000)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.cleanup_grace_days", 7)
	v.SetDefault("substitution.max_price_increase", 50.0)
	v.SetDefault("substitution.max_price_increase_pct", 20.0)
	v.SetDefault("substitution.update_threshold_pct", 1.0)
	v.SetDefault("substitution.min_rating", 3.0)
	v.SetDefault("alternatives.search_site", "amazon.de")
	v.SetDefault("alternatives.max_search_hits", 3)
	v.SetDefault("alternatives.phrase_delay_min_ms", 1000)
	v.SetDefault("alternatives.phrase_delay_max_ms", 3000)
	v.SetDefault("tiers.a_types", []string{"cpu", "gpu"})
	v.SetDefault("tiers.a_min_price", 150.0)
	v.SetDefault("tiers.a_any_min_price", 500.0)
	v.SetDefault("tiers.b_types", []string{"motherboard", "ram", "ssd", "psu"})
	v.SetDefault("tiers.b_min_price", 80.0)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tier_a", "0 3 * * *")
	v.SetDefault("scheduler.tier_b", "@every 96h")
	v.SetDefault("scheduler.cache_cleanup", "0 4 * * 0")
	v.SetDefault("scheduler.assign_tiers", "0 2 * * *")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects values no component can run with. mode "serve" also
// checks the server settings. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for postgres")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for sqlite")
		}
	default:
		add("unknown store.driver %q", c.Store.Driver)
	}

	if len(c.Sources.Order) == 0 {
		add("sources.order must name at least one provider")
	}
	seen := make(map[string]bool, len(c.Sources.Order))
	for _, name := range c.Sources.Order {
		switch {
		case !knownProviders[name]:
			add("unknown provider %q in sources.order", name)
		case seen[name]:
			add("provider %q listed twice in sources.order", name)
		}
		seen[name] = true
	}
	if c.Sources.MinPlausiblePrice < 0 || c.Sources.MaxPlausiblePrice <= c.Sources.MinPlausiblePrice {
		add("plausible price range [%.2f, %.2f] is empty", c.Sources.MinPlausiblePrice, c.Sources.MaxPlausiblePrice)
	}
	if c.Sources.DelayMinMs < 0 || c.Sources.DelayMaxMs < c.Sources.DelayMinMs {
		add("sources.delay_min_ms must be >= 0 and <= delay_max_ms")
	}
	if c.Alternatives.PhraseDelayMinMs < 0 || c.Alternatives.PhraseDelayMaxMs < c.Alternatives.PhraseDelayMinMs {
		add("alternatives.phrase_delay_min_ms must be >= 0 and <= phrase_delay_max_ms")
	}

	s := c.Substitution
	if s.MaxPriceIncrease < 0 || s.MaxPriceIncreasePct < 0 || s.UpdateThresholdPct < 0 || s.MinRating < 0 {
		add("substitution tolerances must be >= 0")
	}
	if s.MinRating > 5 {
		add("substitution.min_rating %.1f is above 5", s.MinRating)
	}
	if c.Cache.TTLHours <= 0 {
		add("cache.ttl_hours must be > 0")
	}

	for _, job := range []struct{ key, spec string }{
		{"scheduler.tier_a", c.Scheduler.TierA},
		{"scheduler.tier_b", c.Scheduler.TierB},
		{"scheduler.cache_cleanup", c.Scheduler.CacheCleanup},
		{"scheduler.assign_tiers", c.Scheduler.AssignTiers},
	} {
		if job.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(job.spec); err != nil {
			add("%s: invalid cadence %q", job.key, job.spec)
		}
	}

	if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
		add("monitoring.failure_rate_threshold %.2f must be within [0, 1]", t)
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
	case "cli":
	default:
		add("unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// CleanupGrace returns how long past expiry cache rows are kept.
func (c CacheConfig) CleanupGrace() time.Duration {
	return time.Duration(c.CleanupGraceDays) * 24 * time.Hour
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
