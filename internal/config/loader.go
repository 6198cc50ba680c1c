package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix starts every environment override.
const envPrefix = "POEFIXER_"

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies POEFIXER_* overrides. An empty path uses defaults and the
// environment only. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose POEFIXER_* variable is set, so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.Driver, "DATABASE_DRIVER")
	setStr(&cfg.Database.SQLitePath, "DATABASE_SQLITE_PATH")
	setStr(&cfg.Database.DSN, "DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Database.Host, "DATABASE_HOST")
	setInt(&cfg.Database.Port, "DATABASE_PORT")
	setStr(&cfg.Database.Database, "DATABASE_DATABASE")
	setStr(&cfg.Database.User, "DATABASE_USER")
	setStr(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.ReplayFrom, "S3_REPLAY_FROM")

	// ── Stash API ──
	setStr(&cfg.StashAPI.BaseURL, "STASH_API_BASE_URL")
	setStr(&cfg.StashAPI.StatsURL, "STASH_API_STATS_URL")
	setDuration(&cfg.StashAPI.RequestInterval, "STASH_API_REQUEST_INTERVAL")
	setInt(&cfg.StashAPI.Retries, "STASH_API_RETRIES")
	setDuration(&cfg.StashAPI.RetryWait, "STASH_API_RETRY_WAIT")
	setDuration(&cfg.StashAPI.Timeout, "STASH_API_TIMEOUT")
	setStr(&cfg.StashAPI.UserAgent, "STASH_API_USER_AGENT")
	setStr(&cfg.StashAPI.StartChangeID, "STASH_API_START_CHANGE_ID")
	setBool(&cfg.StashAPI.MostRecent, "STASH_API_MOST_RECENT")
	setInt(&cfg.StashAPI.MaxPages, "STASH_API_MAX_PAGES")
	setDuration(&cfg.StashAPI.StreamIdle, "STASH_API_STREAM_IDLE")
	setBool(&cfg.StashAPI.SharedRateLimit, "STASH_API_SHARED_RATE_LIMIT")

	// ── Pricing ──
	setInt(&cfg.Pricing.BatchSize, "PRICING_BATCH_SIZE")
	setInt(&cfg.Pricing.Limit, "PRICING_LIMIT")
	setBool(&cfg.Pricing.Continuous, "PRICING_CONTINUOUS")
	setStr(&cfg.Pricing.StartTime, "PRICING_START_TIME")
	setDuration(&cfg.Pricing.RecentWindow, "PRICING_RECENT_WINDOW")
	setDuration(&cfg.Pricing.RelevanceWindow, "PRICING_RELEVANCE_WINDOW")
	setDuration(&cfg.Pricing.WeightScale, "PRICING_WEIGHT_SCALE")
	setDuration(&cfg.Pricing.IdleInterval, "PRICING_IDLE_INTERVAL")
	setDuration(&cfg.Pricing.LockTTL, "PRICING_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPI, "NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Each helper only touches dst when POEFIXER_<key> is set and parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
