// Package config defines the poefixer configuration and its validation.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration. Fields are decoded from a TOML file over
// Defaults and then overridden by POEFIXER_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	StashAPI StashAPIConfig `toml:"stash_api"`
	Pricing  PricingConfig  `toml:"pricing"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver        string `toml:"driver"` // "postgres" or "sqlite"
	SQLitePath    string `toml:"sqlite_path"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it there is no rate cache, pass lock, event bus or shared rate limit.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the raw page archive settings.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	// ReplayFrom narrows replay to pages under Prefix/ReplayFrom, e.g. "2018/03".
	ReplayFrom string `toml:"replay_from"`
}

// StashAPIConfig configures the public stash stream client and scraper.
type StashAPIConfig struct {
	BaseURL         string   `toml:"base_url"`
	StatsURL        string   `toml:"stats_url"`
	RequestInterval duration `toml:"request_interval"`
	Retries         int      `toml:"retries"`
	RetryWait       duration `toml:"retry_wait"`
	Timeout         duration `toml:"timeout"`
	UserAgent       string   `toml:"user_agent"`
	StartChangeID   string   `toml:"start_change_id"`
	MostRecent      bool     `toml:"most_recent"`
	MaxPages        int      `toml:"max_pages"`
	StreamIdle      duration `toml:"stream_idle"`
	// SharedRateLimit paces requests through Redis so several ingest
	// processes share one budget.
	SharedRateLimit bool `toml:"shared_rate_limit"`
}

// PricingConfig tunes the pricing driver and statistics.
type PricingConfig struct {
	BatchSize       int      `toml:"batch_size"`
	Limit           int      `toml:"limit"`
	Continuous      bool     `toml:"continuous"`
	StartTime       string   `toml:"start_time"` // RFC 3339 or unix seconds
	RecentWindow    duration `toml:"recent_window"`
	RelevanceWindow duration `toml:"relevance_window"`
	WeightScale     duration `toml:"weight_scale"`
	IdleInterval    duration `toml:"idle_interval"`
	LockTTL         duration `toml:"lock_ttl"`
}

// Start parses StartTime; an empty value yields the zero time.
func (p PricingConfig) Start() (time.Time, error) {
	return ParseStartTime(p.StartTime)
}

// ParseStartTime accepts RFC 3339 or integer unix seconds.
func ParseStartTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("start time %q is neither RFC 3339 nor unix seconds", s)
	}
	return t.UTC(), nil
}

// duration decodes TOML strings such as "10m" or "600s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the built-in defaults. These
// match config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:        "sqlite",
			SQLitePath:    "poefixer.db",
			Host:          "localhost",
			Port:          5432,
			Database:      "poefixer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poefixer-pages",
			ForcePathStyle: true,
			Prefix:         "stash-pages",
		},
		StashAPI: StashAPIConfig{
			BaseURL:         "http://www.pathofexile.com/api",
			StatsURL:        "http://poe.ninja/api/Data/GetStats",
			RequestInterval: duration{1100 * time.Millisecond},
			Retries:         10,
			RetryWait:       duration{time.Second},
			Timeout:         duration{60 * time.Second},
			UserAgent:       "poefixer",
			StreamIdle:      duration{5 * time.Second},
		},
		Pricing: PricingConfig{
			BatchSize:       1000,
			RecentWindow:    duration{600 * time.Second},
			RelevanceWindow: duration{360 * time.Hour},
			WeightScale:     duration{12 * time.Hour},
			IdleInterval:    duration{time.Second},
			LockTTL:         duration{15 * time.Minute},
		},
		Server: ServerConfig{
			Port:       8080,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"pass_failed", "ingest_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Modes lists the valid run modes.
var Modes = []string{"ingest", "price", "serve", "replay", "full"}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Runs reports whether the configured mode includes stage, where full runs
// ingest, price and serve.
func (c *Config) Runs(stage string) bool {
	mode := strings.ToLower(c.Mode)
	if mode == "full" {
		return stage == "ingest" || stage == "price" || stage == "serve"
	}
	return mode == stage
}

// Validate checks Config for invalid or missing values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	validMode := false
	for _, m := range Modes {
		if strings.EqualFold(c.Mode, m) {
			validMode = true
		}
	}
	if !validMode {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: %s)", c.Mode, strings.Join(Modes, ", ")))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, "database: sqlite_path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: postgres, sqlite)", c.Database.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.StashAPI.SharedRateLimit && !c.Redis.Enabled {
		errs = append(errs, "stash_api: shared_rate_limit requires redis.enabled")
	}

	// S3
	if c.S3.Enabled || strings.EqualFold(c.Mode, "replay") {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if strings.EqualFold(c.Mode, "replay") && !c.S3.Enabled {
		errs = append(errs, "s3: replay mode requires s3.enabled")
	}

	// Stash API
	if c.Runs("ingest") {
		if c.StashAPI.BaseURL == "" {
			errs = append(errs, "stash_api: base_url must not be empty")
		}
		if c.StashAPI.RequestInterval.Duration <= 0 {
			errs = append(errs, "stash_api: request_interval must be > 0")
		}
		if c.StashAPI.Retries < 0 {
			errs = append(errs, "stash_api: retries must be >= 0")
		}
		if c.StashAPI.MaxPages < 0 {
			errs = append(errs, "stash_api: max_pages must be >= 0")
		}
		if c.StashAPI.MostRecent && c.StashAPI.StatsURL == "" {
			errs = append(errs, "stash_api: stats_url is required with most_recent")
		}
	}

	// Pricing
	if c.Pricing.BatchSize < 1 {
		errs = append(errs, "pricing: batch_size must be >= 1")
	}
	if c.Pricing.Limit < 0 {
		errs = append(errs, "pricing: limit must be >= 0")
	}
	if _, err := c.Pricing.Start(); err != nil {
		errs = append(errs, "pricing: "+err.Error())
	}
	if c.Pricing.RecentWindow.Duration < 0 {
		errs = append(errs, "pricing: recent_window must be >= 0")
	}
	if c.Pricing.RelevanceWindow.Duration <= 0 {
		errs = append(errs, "pricing: relevance_window must be > 0")
	}
	if c.Pricing.WeightScale.Duration <= 0 {
		errs = append(errs, "pricing: weight_scale must be > 0")
	}
	if c.Pricing.IdleInterval.Duration <= 0 {
		errs = append(errs, "pricing: idle_interval must be > 0")
	}
	if c.Pricing.LockTTL.Duration <= 0 {
		errs = append(errs, "pricing: lock_ttl must be > 0")
	}

	// Server
	if c.Runs("serve") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && (!c.Redis.Enabled || c.Server.RateWindow.Duration <= 0) {
			errs = append(errs, "server: rate_limit requires redis.enabled and a positive rate_window")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
