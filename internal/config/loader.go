package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ESCROWD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ESCROWD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ESCROWD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ESCROWD_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "ESCROWD_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "ESCROWD_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "ESCROWD_CHAIN_KEY_PASSWORD")

	// ── Ledger seeds ──
	setInt64(&cfg.Ledger.ProtocolFeeBps, "ESCROWD_LEDGER_PROTOCOL_FEE_BPS")
	setStr(&cfg.Ledger.FeeAddress, "ESCROWD_LEDGER_FEE_ADDRESS")
	setDuration(&cfg.Ledger.NoArbiterCooldown, "ESCROWD_LEDGER_NO_ARBITER_COOLDOWN")
	setDuration(&cfg.Ledger.EmergencyCooldown, "ESCROWD_LEDGER_EMERGENCY_COOLDOWN")
	setStr(&cfg.Ledger.LifecycleOrchestrator, "ESCROWD_LEDGER_LIFECYCLE_ORCHESTRATOR")
	setStr(&cfg.Ledger.ArbitrationOrchestrator, "ESCROWD_LEDGER_ARBITRATION_ORCHESTRATOR")
	setBool(&cfg.Ledger.AllowlistEnforced, "ESCROWD_LEDGER_ALLOWLIST_ENFORCED")

	// ── Admin ──
	setStringSlice(&cfg.Admin.Addresses, "ESCROWD_ADMIN_ADDRESSES")
	setStr(&cfg.Admin.APIKey, "ESCROWD_ADMIN_API_KEY")
	setStr(&cfg.Admin.APISecret, "ESCROWD_ADMIN_API_SECRET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ESCROWD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ESCROWD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROWD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROWD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROWD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROWD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROWD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROWD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROWD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESCROWD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ESCROWD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROWD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROWD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ESCROWD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROWD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROWD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROWD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "ESCROWD_S3_KEY_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ESCROWD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ESCROWD_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "ESCROWD_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ESCROWD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ESCROWD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROWD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ESCROWD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "ESCROWD_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROWD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROWD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROWD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESCROWD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ESCROWD_MODE")
	setStr(&cfg.LogLevel, "ESCROWD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
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
