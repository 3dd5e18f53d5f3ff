package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BOTFLEET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BOTFLEET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.APIKey, "BOTFLEET_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.SecretKey, "BOTFLEET_EXCHANGE_SECRET_KEY")
	setStr(&cfg.Exchange.BaseURL, "BOTFLEET_EXCHANGE_BASE_URL")
	setBool(&cfg.Exchange.Testnet, "BOTFLEET_EXCHANGE_TESTNET")

	// ── Database ──
	setStr(&cfg.Database.Kind, "BOTFLEET_DATABASE_KIND")
	setStr(&cfg.Database.Path, "BOTFLEET_DATABASE_PATH")
	setStr(&cfg.Database.DSN, "BOTFLEET_DATABASE_DSN")
	setStr(&cfg.Database.Host, "BOTFLEET_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BOTFLEET_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BOTFLEET_DATABASE_NAME")
	setStr(&cfg.Database.User, "BOTFLEET_DATABASE_USER")
	setStr(&cfg.Database.Password, "BOTFLEET_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BOTFLEET_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "BOTFLEET_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BOTFLEET_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "BOTFLEET_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BOTFLEET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BOTFLEET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOTFLEET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOTFLEET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOTFLEET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BOTFLEET_REDIS_MAX_RETRIES")

	// ── Server ──
	setInt(&cfg.Server.Port, "BOTFLEET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BOTFLEET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BOTFLEET_SERVER_API_KEY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BOTFLEET_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "BOTFLEET_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "BOTFLEET_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "BOTFLEET_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "BOTFLEET_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "BOTFLEET_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "BOTFLEET_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "BOTFLEET_ARCHIVE_FORCE_PATH_STYLE")
	setInt(&cfg.Archive.RetentionDays, "BOTFLEET_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.IntervalHours, "BOTFLEET_ARCHIVE_INTERVAL_HOURS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOTFLEET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BOTFLEET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BOTFLEET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BOTFLEET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BOTFLEET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
