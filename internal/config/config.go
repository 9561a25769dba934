package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Stats     StatsConfig     `mapstructure:"stats"`
	Mentions  MentionsConfig  `mapstructure:"mentions"`
	Arbiter   ArbiterConfig   `mapstructure:"arbiter"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Edge      EdgeConfig      `mapstructure:"edge"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StatsConfig holds stats provider configuration
type StatsConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Timeout            time.Duration `mapstructure:"timeout"`
	LogTimeout         time.Duration `mapstructure:"log_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelayBase     time.Duration `mapstructure:"retry_delay_base"`
	RateLimitRPS       float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
	RosterTTL          time.Duration `mapstructure:"roster_ttl"`
}

// MentionsConfig holds social and news provider configuration
type MentionsConfig struct {
	RedditURL  string        `mapstructure:"reddit_url"`
	UserAgent  string        `mapstructure:"user_agent"`
	ESPNURL    string        `mapstructure:"espn_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxResults int           `mapstructure:"max_results"`
}

// ArbiterConfig holds language-model configuration.
// An empty api_key disables arbitration and every report uses the heuristic.
type ArbiterConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// SynthesisConfig holds report caching configuration
type SynthesisConfig struct {
	ReportTTL time.Duration `mapstructure:"report_ttl"`
}

// EdgeConfig holds momentum scan configuration
type EdgeConfig struct {
	Season       int     `mapstructure:"season"`
	MinMinutes   float64 `mapstructure:"min_minutes"`
	LogPages     int     `mapstructure:"log_pages"`
	PerPage      int     `mapstructure:"per_page"`
	TopN         int     `mapstructure:"top_n"`
	MinSample    int     `mapstructure:"min_sample"`
	RecentWindow int     `mapstructure:"recent_window"`
}

// AlertsConfig holds alert run configuration
type AlertsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	Stat           string        `mapstructure:"stat"`
	Direction      string        `mapstructure:"direction"`
	MinDeltaPoints float64       `mapstructure:"min_delta_points"`
	MinDeltaPRA    float64       `mapstructure:"min_delta_pra"`
	MinDeltaOther  float64       `mapstructure:"min_delta_other"`
	MinMinutes     float64       `mapstructure:"min_minutes"`
	TopN           int           `mapstructure:"top_n"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// CacheConfig selects the TTL store shared by reports and alert cooldowns
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, sqlite or redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTimeout  time.Duration `mapstructure:"redis_timeout"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	MaxAlerts     int           `mapstructure:"max_alerts"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envKeyReplacer maps nested keys to env names, e.g. stats.api_key -> PROP_ORACLE_STATS_API_KEY.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PROP_ORACLE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Stats defaults
	v.SetDefault("stats.base_url", "https://api.balldontlie.io/v1")
	v.SetDefault("stats.api_key", "")
	v.SetDefault("stats.timeout", "10s")
	v.SetDefault("stats.log_timeout", "15s")
	v.SetDefault("stats.max_retries", 3)
	v.SetDefault("stats.retry_delay_base", "1s")
	v.SetDefault("stats.rate_limit_rps", 5.0)
	v.SetDefault("stats.rate_limit_burst", 5)
	v.SetDefault("stats.breaker_failures", 5)
	v.SetDefault("stats.breaker_open_timeout", "30s")
	v.SetDefault("stats.roster_ttl", "24h")

	// Mentions defaults
	v.SetDefault("mentions.reddit_url", "https://www.reddit.com")
	v.SetDefault("mentions.user_agent", "proporacle/1.0")
	v.SetDefault("mentions.espn_url", "https://site.api.espn.com/apis/site/v2/sports/basketball/nba/news")
	v.SetDefault("mentions.timeout", "8s")
	v.SetDefault("mentions.max_results", 30)

	// Arbiter defaults
	v.SetDefault("arbiter.base_url", "https://api.anthropic.com")
	v.SetDefault("arbiter.api_key", "")
	v.SetDefault("arbiter.model", "claude-3-5-haiku-latest")
	v.SetDefault("arbiter.timeout", "30s")
	v.SetDefault("arbiter.max_tokens", 1024)
	v.SetDefault("arbiter.breaker_failures", 3)
	v.SetDefault("arbiter.breaker_open_timeout", "1m")

	// Synthesis defaults
	v.SetDefault("synthesis.report_ttl", "15m")

	// Edge defaults
	v.SetDefault("edge.season", 2025)
	v.SetDefault("edge.min_minutes", 20.0)
	v.SetDefault("edge.log_pages", 2)
	v.SetDefault("edge.per_page", 100)
	v.SetDefault("edge.top_n", 20)
	v.SetDefault("edge.min_sample", 3)
	v.SetDefault("edge.recent_window", 5)

	// Alerts defaults
	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.interval", "30m")
	v.SetDefault("alerts.stat", "pts")
	v.SetDefault("alerts.direction", "both")
	v.SetDefault("alerts.min_delta_points", 2.0)
	v.SetDefault("alerts.min_delta_pra", 3.5)
	v.SetDefault("alerts.min_delta_other", 1.5)
	v.SetDefault("alerts.min_minutes", 20.0)
	v.SetDefault("alerts.top_n", 10)
	v.SetDefault("alerts.cooldown", "180m")
	v.SetDefault("alerts.batch_size", 10)

	// Cache defaults
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_timeout", "500ms")

	// Storage defaults
	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_alerts", 1000)
	v.SetDefault("storage.purge_interval", "1h")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Stats config
	if c.Stats.BaseURL == "" {
		return fmt.Errorf("stats.base_url is required")
	}
	if c.Stats.Timeout <= 0 || c.Stats.LogTimeout <= 0 {
		return fmt.Errorf("stats.timeout and stats.log_timeout must be positive")
	}
	if c.Stats.MaxRetries < 1 {
		return fmt.Errorf("stats.max_retries must be at least 1")
	}
	if c.Stats.RateLimitRPS <= 0 {
		return fmt.Errorf("stats.rate_limit_rps must be positive")
	}
	if c.Stats.RosterTTL < 1*time.Minute {
		return fmt.Errorf("stats.roster_ttl must be at least 1 minute")
	}

	// Validate Mentions config
	if c.Mentions.Timeout <= 0 {
		return fmt.Errorf("mentions.timeout must be positive")
	}
	if c.Mentions.MaxResults < 1 {
		return fmt.Errorf("mentions.max_results must be at least 1")
	}

	// Validate Arbiter config
	if c.Arbiter.APIKey != "" && c.Arbiter.Model == "" {
		return fmt.Errorf("arbiter.model is required when arbiter.api_key is set")
	}
	if c.Arbiter.Timeout <= 0 {
		return fmt.Errorf("arbiter.timeout must be positive")
	}
	if c.Arbiter.MaxTokens < 1 {
		return fmt.Errorf("arbiter.max_tokens must be at least 1")
	}

	// Validate Synthesis config
	if c.Synthesis.ReportTTL < 1*time.Minute {
		return fmt.Errorf("synthesis.report_ttl must be at least 1 minute")
	}

	// Validate Edge config
	if c.Edge.Season < 1946 {
		return fmt.Errorf("edge.season must be a season start year")
	}
	if c.Edge.MinMinutes < 0 {
		return fmt.Errorf("edge.min_minutes must not be negative")
	}
	if c.Edge.LogPages < 1 || c.Edge.PerPage < 1 || c.Edge.PerPage > 100 {
		return fmt.Errorf("edge.log_pages must be at least 1 and edge.per_page between 1 and 100")
	}
	if c.Edge.TopN < 1 {
		return fmt.Errorf("edge.top_n must be at least 1")
	}

	// Validate Alerts config
	if c.Alerts.Enabled && c.Alerts.Interval < 1*time.Minute {
		return fmt.Errorf("alerts.interval must be at least 1 minute")
	}
	if _, err := models.ParseMeasure(c.Alerts.Stat); err != nil {
		return fmt.Errorf("alerts.stat: %w", err)
	}
	validDirections := map[string]bool{"over": true, "under": true, "both": true}
	if !validDirections[c.Alerts.Direction] {
		return fmt.Errorf("alerts.direction must be one of: over, under, both")
	}
	if c.Alerts.MinDeltaPoints < 0 || c.Alerts.MinDeltaPRA < 0 || c.Alerts.MinDeltaOther < 0 {
		return fmt.Errorf("alerts min deltas must not be negative")
	}
	if c.Alerts.TopN < 1 || c.Alerts.BatchSize < 1 {
		return fmt.Errorf("alerts.top_n and alerts.batch_size must be at least 1")
	}
	if c.Alerts.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	if c.Alerts.Enabled && !c.Telegram.Enabled {
		return fmt.Errorf("alerts.enabled requires telegram.enabled")
	}

	// Validate Cache config
	switch c.Cache.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, sqlite, redis")
	}

	// Validate Storage config
	if c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}
	if c.Storage.PurgeInterval < 1*time.Minute {
		return fmt.Errorf("storage.purge_interval must be at least 1 minute")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
