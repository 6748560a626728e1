package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nulzo/query-router/internal/rules"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Router    RouterConfig    `mapstructure:"router"`
	Settings  Settings        `mapstructure:"settings"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Env  string `mapstructure:"env"`
	// CheckUpdates queries the release feed once at startup.
	CheckUpdates bool `mapstructure:"check_updates"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

type AnalyticsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// DSN of the sqlite database holding query logs. Shared with the sqlite cache backend.
	DSN string `mapstructure:"dsn"`
}

// RouterConfig selects defaults and rules for routing.
type RouterConfig struct {
	DefaultProvider string                 `mapstructure:"default_provider" validate:"required"`
	DefaultModel    string                 `mapstructure:"default_model" validate:"required"`
	Rules           []rules.Rule           `mapstructure:"rules"`
	AssistantPrompt *AssistantPromptConfig `mapstructure:"assistant_prompt"`

	// ProviderTimeout bounds each upstream call; zero leaves it to the caller's context.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout" validate:"gte=0"`
	// CacheTTL is passed to the cache store on every write; zero means no expiry.
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	// DedupeInflight collapses concurrent identical cache misses into one upstream call.
	DedupeInflight bool `mapstructure:"dedupe_inflight"`
}

type AssistantPromptConfig struct {
	Style string `mapstructure:"style"`
	// Styles adds or replaces named style phrases.
	Styles map[string]string `mapstructure:"styles"`
}

// Settings carry per-deployment credentials and the cache backend.
type Settings struct {
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"dive"`
	Cache     CacheConfig               `mapstructure:"cache"`
	// CheckHealth probes every configured provider at startup and marks
	// unhealthy ones unavailable.
	CheckHealth bool `mapstructure:"check_health"`
}

// ProviderConfig represents the configuration for a single upstream provider.
type ProviderConfig struct {
	ID     string            `mapstructure:"-"` // the settings key
	Type   string            `mapstructure:"type"`
	APIKey string            `mapstructure:"api_key"`
	Host   string            `mapstructure:"host" validate:"omitempty,url"`
	Config map[string]string `mapstructure:"config"`
}

// Configured reports whether credentials or an endpoint were supplied.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != "" || p.Host != ""
}

type CacheConfig struct {
	Backend string      `mapstructure:"backend" validate:"omitempty,oneof=memory redis sqlite"`
	Path    string      `mapstructure:"path"` // sqlite database file
	Size    int         `mapstructure:"size" validate:"gte=0"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LoadConfig reads configuration from file or environment variables.
// CONFIG_FILE selects an explicit file; otherwise config.yaml is searched
// for in the working directory and ./config.
func LoadConfig() (*Config, error) {
	// load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	resolveProviders(&cfg, v)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.check_updates", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "query-router")
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("analytics.enabled", false)
	v.SetDefault("analytics.dsn", "router.db")

	// with no config file the router still starts, routing to a mock
	// provider that is unavailable until configured
	v.SetDefault("router.default_provider", "mock")
	v.SetDefault("router.default_model", "mock")
	v.SetDefault("router.provider_timeout", "60s")
	v.SetDefault("router.cache_ttl", "0s")
	v.SetDefault("router.dedupe_inflight", false)

	v.SetDefault("settings.cache.backend", "memory")
	v.SetDefault("settings.cache.path", "router.db")
	v.SetDefault("settings.cache.size", 10000)
	v.SetDefault("settings.cache.redis.addr", "localhost:6379")
	v.SetDefault("settings.cache.redis.prefix", "query-router:")
	v.SetDefault("settings.check_health", false)
}

// resolveProviders fills IDs from map keys and resolves "ENV:NAME" api keys.
func resolveProviders(cfg *Config, v *viper.Viper) {
	for name, p := range cfg.Settings.Providers {
		p.ID = name
		if strings.HasPrefix(p.APIKey, "ENV:") {
			envVar := strings.TrimPrefix(p.APIKey, "ENV:")
			// process environment first (explicit override)
			val := os.Getenv(envVar)
			if val == "" {
				// then viper, which might have it from other sources
				val = v.GetString(envVar)
			}
			p.APIKey = val
		}
		cfg.Settings.Providers[name] = p
	}
}

// Validate checks struct constraints and rule well-formedness. Rules are
// rejected here, at load time, never at match time.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Router.DedupeInflight && cfg.Router.ProviderTimeout <= 0 {
		return errors.New("invalid configuration: router.dedupe_inflight requires a positive router.provider_timeout")
	}

	for i, r := range cfg.Router.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: router.rules[%d]: %w", i, err)
		}
	}

	return nil
}
