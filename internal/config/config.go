// Package config loads the process-wide, immutable Config value the
// server reads once at startup: relational store and cache connection
// strings, the enabled engine list, per-tier rate and concurrency
// quotas, the webhook HMAC signing secret, the robots cache TTL, and
// circuit breaker tuning. Nothing downstream holds a pointer to a
// mutable config; every component receives the fields it needs by
// value at construction time.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TierLimits bounds one subscription tier's request rate and
// concurrent task budget.
type TierLimits struct {
	RatePerMinute  int `mapstructure:"rate_per_minute"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// BreakerTuning overrides the default circuit breaker thresholds for
// one or all engines. Tuning only; it never changes which states a
// breaker can be in.
type BreakerTuning struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
	Window           time.Duration `mapstructure:"window"`
}

// Config is the complete set of environment-provided settings the
// server needs to start. Every field is populated once by Load and
// never mutated afterward.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`

	EnabledEngines          []string `mapstructure:"enabled_engines"`
	PlaywrightSidecarURL    string   `mapstructure:"playwright_sidecar_url"`
	FireEngineTLSSidecarURL string   `mapstructure:"fireengine_tls_sidecar_url"`
	FireEngineCDPSidecarURL string   `mapstructure:"fireengine_cdp_sidecar_url"`

	SearchProviders []SearchProviderConfig `mapstructure:"search_providers"`
	MinSearchEngineSuccess int             `mapstructure:"min_search_engine_success"`

	DefaultTier TierLimits            `mapstructure:"default_tier"`
	Tiers       map[string]TierLimits `mapstructure:"tiers"`

	Credentials map[string]CredentialConfig `mapstructure:"credentials"`

	WebhookSigningSecret string        `mapstructure:"webhook_signing_secret"`
	WebhookTimeout       time.Duration `mapstructure:"webhook_timeout"`

	RobotsCacheTTL time.Duration `mapstructure:"robots_cache_ttl"`
	Breaker        BreakerTuning `mapstructure:"breaker"`

	ScrapeWorkers  int `mapstructure:"scrape_workers"`
	CrawlWorkers   int `mapstructure:"crawl_workers"`
	SearchWorkers  int `mapstructure:"search_workers"`
	ExtractWorkers int `mapstructure:"extract_workers"`
	WebhookWorkers int `mapstructure:"webhook_workers"`
	ReaperWorkers  int `mapstructure:"reaper_workers"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// SearchProviderConfig names one SearXNG-compatible search backend to
// fan out to.
type SearchProviderConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	Score   int    `mapstructure:"score"`
}

// CredentialConfig maps one bearer credential to its tenant and quota,
// the StaticAuthenticator's backing table until a real credential
// store exists.
type CredentialConfig struct {
	Tenant         string `mapstructure:"tenant"`
	QuotaPerMinute int    `mapstructure:"quota_per_minute"`
}

// setDefaults registers a default for every setting so a fresh viper
// instance with no file and no environment still resolves to a
// runnable configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("postgres_dsn", "postgres://localhost:5432/crawlrs?sslmode=disable")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)

	v.SetDefault("enabled_engines", []string{"reqwest", "headless", "stealth"})

	v.SetDefault("default_tier.rate_per_minute", 60)
	v.SetDefault("default_tier.max_concurrency", 5)

	v.SetDefault("webhook_timeout", 10*time.Second)
	v.SetDefault("robots_cache_ttl", time.Hour)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.open_duration", 30*time.Second)
	v.SetDefault("breaker.window", 60*time.Second)

	v.SetDefault("scrape_workers", 10)
	v.SetDefault("crawl_workers", 10)
	v.SetDefault("search_workers", 5)
	v.SetDefault("extract_workers", 5)
	v.SetDefault("webhook_workers", 4)
	v.SetDefault("reaper_workers", 1)

	v.SetDefault("min_search_engine_success", 1)
}

// Load builds the Config: viper defaults, then path's YAML file if it
// exists, then CRAWLRS_-prefixed environment variables (highest
// precedence). An empty path skips the file layer entirely.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("crawlrs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}

	if cfg.WebhookSigningSecret == "" {
		return Config{}, fmt.Errorf("webhook signing secret is required (set webhook_signing_secret or CRAWLRS_WEBHOOK_SIGNING_SECRET)")
	}

	return cfg, nil
}
