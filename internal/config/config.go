package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Google    GoogleConfig    `yaml:"google" mapstructure:"google"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Pool      PoolConfig      `yaml:"pool" mapstructure:"pool"`
	Relax     RelaxConfig     `yaml:"relax" mapstructure:"relax"`
	Expansion ExpansionConfig `yaml:"expansion" mapstructure:"expansion"`
	Mood      MoodConfig      `yaml:"mood" mapstructure:"mood"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" mapstructure:"snapshot"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Fallback  FallbackConfig  `yaml:"fallback" mapstructure:"fallback"`
}

// GoogleConfig holds Places API settings.
type GoogleConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds the optional Claude mood scorer settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	CacheSize int    `yaml:"cache_size" mapstructure:"cache_size"`
}

// CacheConfig configures the result caches.
type CacheConfig struct {
	MaxSize       int           `yaml:"max_size" mapstructure:"max_size"`
	DefaultTTL    time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MinTTL        time.Duration `yaml:"min_ttl" mapstructure:"min_ttl"`
	MaxTTL        time.Duration `yaml:"max_ttl" mapstructure:"max_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	ExtendEvery   int           `yaml:"extend_every" mapstructure:"extend_every"`
	AccessWeight  float64       `yaml:"access_weight" mapstructure:"access_weight"`
	RecencyWeight float64       `yaml:"recency_weight" mapstructure:"recency_weight"`
	EvictFraction float64       `yaml:"evict_fraction" mapstructure:"evict_fraction"`
}

// PoolConfig configures the candidate pool.
type PoolConfig struct {
	Capacity         int `yaml:"capacity" mapstructure:"capacity"`
	GroupSize        int `yaml:"group_size" mapstructure:"group_size"`
	RefreshThreshold int `yaml:"refresh_threshold" mapstructure:"refresh_threshold"`
	UsedIDsCap       int `yaml:"used_ids_cap" mapstructure:"used_ids_cap"`
}

// RelaxConfig configures filter relaxation.
type RelaxConfig struct {
	StrictMoodTolerance  float64 `yaml:"strict_mood_tolerance" mapstructure:"strict_mood_tolerance"`
	RelaxedMoodTolerance float64 `yaml:"relaxed_mood_tolerance" mapstructure:"relaxed_mood_tolerance"`
	QualityFloor         float64 `yaml:"quality_floor" mapstructure:"quality_floor"`
}

// ExpansionConfig configures the radius expansion loop.
type ExpansionConfig struct {
	TargetCount        int     `yaml:"target_count" mapstructure:"target_count"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	Growth             string  `yaml:"growth" mapstructure:"growth"`
	JitterMeters       float64 `yaml:"jitter_meters" mapstructure:"jitter_meters"`
	MaxRadius          float64 `yaml:"max_radius" mapstructure:"max_radius"`
	BreakerThreshold   int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// MoodConfig configures mood scoring.
type MoodConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// SnapshotConfig selects where the response cache is persisted.
type SnapshotConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	Path          string `yaml:"path" mapstructure:"path"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	Key           string `yaml:"key" mapstructure:"key"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FallbackConfig points at the curated candidate list used when discovery
// fails.
type FallbackConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACEFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 5.0)
	v.SetDefault("google.timeout_secs", 15)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.cache_size", 1000)
	v.SetDefault("cache.max_size", 100)
	v.SetDefault("cache.default_ttl", "30m")
	v.SetDefault("cache.min_ttl", "5m")
	v.SetDefault("cache.max_ttl", "2h")
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.extend_every", 5)
	v.SetDefault("cache.access_weight", 0.7)
	v.SetDefault("cache.recency_weight", 0.3)
	v.SetDefault("cache.evict_fraction", 0.2)
	v.SetDefault("pool.capacity", 50)
	v.SetDefault("pool.group_size", 5)
	v.SetDefault("pool.refresh_threshold", 4)
	v.SetDefault("pool.used_ids_cap", 50)
	v.SetDefault("relax.strict_mood_tolerance", 20.0)
	v.SetDefault("relax.relaxed_mood_tolerance", 40.0)
	v.SetDefault("relax.quality_floor", 2.0)
	v.SetDefault("expansion.target_count", 100)
	v.SetDefault("expansion.max_attempts", 3)
	v.SetDefault("expansion.attempt_timeout_secs", 12)
	v.SetDefault("expansion.growth", "multiplicative")
	v.SetDefault("expansion.jitter_meters", 300.0)
	v.SetDefault("expansion.max_radius", 50000.0)
	v.SetDefault("expansion.breaker_threshold", 5)
	v.SetDefault("expansion.breaker_reset_secs", 30)
	v.SetDefault("mood.concurrency", 8)
	v.SetDefault("snapshot.driver", "none")
	v.SetDefault("snapshot.path", "placefinder.db")
	v.SetDefault("snapshot.redis_addr", "localhost:6379")
	v.SetDefault("snapshot.redis_password", "")
	v.SetDefault("snapshot.redis_db", 0)
	v.SetDefault("snapshot.key", "result_cache")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("fallback.path", "")

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

// Validate checks the settings a command mode depends on. Mode is one of
// "recommend", "serve" or "cache". Cache maintenance makes no API calls, so
// it does not require API keys.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "recommend", "serve", "cache":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode != "cache" {
		if c.Google.Key == "" {
			errs = append(errs, "google.key is required")
		}
		if c.Anthropic.Enabled && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required when anthropic.enabled is set")
		}
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if c.Cache.MinTTL > c.Cache.MaxTTL {
		errs = append(errs, "cache.min_ttl must not exceed cache.max_ttl")
	}
	if c.Relax.RelaxedMoodTolerance < c.Relax.StrictMoodTolerance {
		errs = append(errs, "relax.relaxed_mood_tolerance must be >= relax.strict_mood_tolerance")
	}
	switch c.Expansion.Growth {
	case "multiplicative", "table":
	default:
		errs = append(errs, fmt.Sprintf("expansion.growth %q must be multiplicative or table", c.Expansion.Growth))
	}
	switch c.Snapshot.Driver {
	case "none", "":
	case "sqlite":
		if c.Snapshot.Path == "" {
			errs = append(errs, "snapshot.path is required for the sqlite driver")
		}
	case "redis":
		if c.Snapshot.RedisAddr == "" {
			errs = append(errs, "snapshot.redis_addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("snapshot.driver %q must be none, sqlite or redis", c.Snapshot.Driver))
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
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
