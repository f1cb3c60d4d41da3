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
// built-in defaults, applies LISTINGD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known LISTINGD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LISTINGD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LISTINGD_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LISTINGD_WALLET_KEY_PASSWORD")
	setInt64(&cfg.Wallet.ChainID, "LISTINGD_WALLET_CHAIN_ID")
	setStr(&cfg.Wallet.RPCURL, "LISTINGD_WALLET_RPC_URL")

	// ── NFTGo ──
	setStr(&cfg.NFTGo.BaseURL, "LISTINGD_NFTGO_BASE_URL")
	setStr(&cfg.NFTGo.APIKey, "LISTINGD_NFTGO_API_KEY")

	// ── Moralis ──
	setStr(&cfg.Moralis.BaseURL, "LISTINGD_MORALIS_BASE_URL")
	setStr(&cfg.Moralis.APIKey, "LISTINGD_MORALIS_API_KEY")
	setStr(&cfg.Moralis.Chain, "LISTINGD_MORALIS_CHAIN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LISTINGD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LISTINGD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LISTINGD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LISTINGD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LISTINGD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LISTINGD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LISTINGD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LISTINGD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LISTINGD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LISTINGD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LISTINGD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LISTINGD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LISTINGD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LISTINGD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LISTINGD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LISTINGD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LISTINGD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LISTINGD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LISTINGD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LISTINGD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LISTINGD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LISTINGD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LISTINGD_S3_FORCE_PATH_STYLE")

	// ── Workflow ──
	setDuration(&cfg.Workflow.PollInterval, "LISTINGD_WORKFLOW_POLL_INTERVAL")
	setDuration(&cfg.Workflow.PollTimeout, "LISTINGD_WORKFLOW_POLL_TIMEOUT")
	setInt(&cfg.Workflow.EmptyPollThreshold, "LISTINGD_WORKFLOW_EMPTY_POLL_THRESHOLD")
	setDuration(&cfg.Workflow.SettleDelay, "LISTINGD_WORKFLOW_SETTLE_DELAY")
	setDuration(&cfg.Workflow.ReceiptInterval, "LISTINGD_WORKFLOW_RECEIPT_INTERVAL")
	setDuration(&cfg.Workflow.ReceiptTimeout, "LISTINGD_WORKFLOW_RECEIPT_TIMEOUT")
	setDuration(&cfg.Workflow.RefreshCooldown, "LISTINGD_WORKFLOW_REFRESH_COOLDOWN")
	setDuration(&cfg.Workflow.LockTTL, "LISTINGD_WORKFLOW_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LISTINGD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "LISTINGD_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "LISTINGD_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LISTINGD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LISTINGD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LISTINGD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LISTINGD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LISTINGD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LISTINGD_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LISTINGD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LISTINGD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LISTINGD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LISTINGD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "LISTINGD_LOG_LEVEL")
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
