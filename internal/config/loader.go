package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies JUSTER_* environment variable overrides, and
// returns the final Config. A missing file leaves the defaults in place when
// path is empty. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known JUSTER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Network, "JUSTER_NETWORK")

	// ── Indexer ──
	setStr(&cfg.Indexer.Mainnet.GraphQLURL, "JUSTER_INDEXER_MAINNET_GRAPHQL_URL")
	setStr(&cfg.Indexer.Mainnet.WSURL, "JUSTER_INDEXER_MAINNET_WS_URL")
	setStr(&cfg.Indexer.Mainnet.Schema, "JUSTER_INDEXER_MAINNET_SCHEMA")
	setFloat64(&cfg.Indexer.Mainnet.RatePerSec, "JUSTER_INDEXER_MAINNET_RATE_PER_SEC")
	setStr(&cfg.Indexer.Testnet.GraphQLURL, "JUSTER_INDEXER_TESTNET_GRAPHQL_URL")
	setStr(&cfg.Indexer.Testnet.WSURL, "JUSTER_INDEXER_TESTNET_WS_URL")
	setStr(&cfg.Indexer.Testnet.Schema, "JUSTER_INDEXER_TESTNET_SCHEMA")
	setFloat64(&cfg.Indexer.Testnet.RatePerSec, "JUSTER_INDEXER_TESTNET_RATE_PER_SEC")

	// ── Auth ──
	setStr(&cfg.Auth.BaseURL, "JUSTER_AUTH_BASE_URL")
	setDuration(&cfg.Auth.PayloadTTL, "JUSTER_AUTH_PAYLOAD_TTL")
	setStr(&cfg.Auth.TokenKey, "JUSTER_AUTH_TOKEN_KEY")

	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "JUSTER_WALLET_ADDRESS")
	setStr(&cfg.Wallet.Chain, "JUSTER_WALLET_CHAIN")
	setStr(&cfg.Wallet.PublicKey, "JUSTER_WALLET_PUBLIC_KEY")
	setStr(&cfg.Wallet.StateInit, "JUSTER_WALLET_STATE_INIT")
	setStr(&cfg.Wallet.ProofFile, "JUSTER_WALLET_PROOF_FILE")

	// ── Sync ──
	setInt(&cfg.Sync.QuoteHistory, "JUSTER_SYNC_QUOTE_HISTORY")
	setDuration(&cfg.Sync.HistoryWindow, "JUSTER_SYNC_HISTORY_WINDOW")
	setInt(&cfg.Sync.TopEvents, "JUSTER_SYNC_TOP_EVENTS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "JUSTER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "JUSTER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "JUSTER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "JUSTER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "JUSTER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "JUSTER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "JUSTER_REDIS_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "JUSTER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "JUSTER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "JUSTER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "JUSTER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "JUSTER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "JUSTER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "JUSTER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "JUSTER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "JUSTER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "JUSTER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "JUSTER_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.BatchSize, "JUSTER_POSTGRES_BATCH_SIZE")
	setDuration(&cfg.Postgres.FlushInterval, "JUSTER_POSTGRES_FLUSH_INTERVAL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "JUSTER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "JUSTER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "JUSTER_S3_REGION")
	setStr(&cfg.S3.Bucket, "JUSTER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "JUSTER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "JUSTER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "JUSTER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "JUSTER_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.Retention, "JUSTER_S3_RETENTION")
	setDuration(&cfg.S3.Interval, "JUSTER_S3_INTERVAL")
	setBool(&cfg.S3.Prune, "JUSTER_S3_PRUNE")

	// ── Server ──
	setInt(&cfg.Server.Port, "JUSTER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "JUSTER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "JUSTER_SERVER_API_KEY")
	setInt(&cfg.Server.AuthRateLimit, "JUSTER_SERVER_AUTH_RATE_LIMIT")
	setDuration(&cfg.Server.AuthRateWindow, "JUSTER_SERVER_AUTH_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "JUSTER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "JUSTER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "JUSTER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Levels, "JUSTER_NOTIFY_LEVELS")

	// ── Top-level ──
	setStr(&cfg.Mode, "JUSTER_MODE")
	setStr(&cfg.LogLevel, "JUSTER_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
