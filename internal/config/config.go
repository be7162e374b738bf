// Package config defines the top-level configuration for justersync and
// provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by JUSTER_* environment variables.
type Config struct {
	Network  string                  `toml:"network"`
	Indexer  IndexerSet              `toml:"indexer"`
	Auth     AuthConfig              `toml:"auth"`
	Wallet   WalletConfig            `toml:"wallet"`
	Markets  map[string]MarketConfig `toml:"markets"`
	Sync     SyncConfig              `toml:"sync"`
	Redis    RedisConfig             `toml:"redis"`
	Postgres PostgresConfig          `toml:"postgres"`
	S3       S3Config                `toml:"s3"`
	Server   ServerConfig            `toml:"server"`
	Notify   NotifyConfig            `toml:"notify"`
	Mode     string                  `toml:"mode"`
	LogLevel string                  `toml:"log_level"`
}

// IndexerSet holds one indexer deployment per network.
type IndexerSet struct {
	Mainnet IndexerConfig `toml:"mainnet"`
	Testnet IndexerConfig `toml:"testnet"`
}

// IndexerConfig holds the endpoints of one indexer deployment.
type IndexerConfig struct {
	GraphQLURL string `toml:"graphql_url"`
	WSURL      string `toml:"ws_url"`
	// Schema is "v1" or "v2".
	Schema     string  `toml:"schema"`
	RatePerSec float64 `toml:"rate_per_sec"`
}

// AuthConfig holds the proof-of-ownership API parameters.
type AuthConfig struct {
	BaseURL    string   `toml:"base_url"`
	PayloadTTL duration `toml:"payload_ttl"`
	// TokenKey, when set, seals the stored auth token with a key derived
	// from it.
	TokenKey string `toml:"token_key"`
}

// WalletConfig describes a wallet connected at startup. All fields are
// optional; a wallet can also be connected over the HTTP API.
type WalletConfig struct {
	Address   string `toml:"address"`
	Chain     string `toml:"chain"`
	PublicKey string `toml:"public_key"`
	StateInit string `toml:"state_init"`
	ProofFile string `toml:"proof_file"`
}

// MarketConfig is the display metadata of a supported market.
type MarketConfig struct {
	Target      string `toml:"target"`
	Description string `toml:"description"`
}

// SyncConfig tunes the live views.
type SyncConfig struct {
	QuoteHistory  int      `toml:"quote_history"`
	HistoryWindow duration `toml:"history_window"`
	TopEvents     int      `toml:"top_events"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Prefix namespaces keys and channels.
	Prefix string `toml:"prefix"`
}

// PostgresConfig holds the quote archive connection parameters.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
}

// S3Config holds S3-compatible object storage parameters. When enabled,
// archived quotes older than Retention are moved from postgres to the
// bucket every Interval.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Retention      duration `toml:"retention"`
	Interval       duration `toml:"interval"`
	// Prune deletes quotes from postgres once they are uploaded.
	Prune bool `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	AuthRateLimit  int      `toml:"auth_rate_limit"`
	AuthRateWindow duration `toml:"auth_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Levels selects which notification types are forwarded. Empty forwards
	// all of them.
	Levels []string `toml:"levels"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	local := IndexerConfig{
		GraphQLURL: "http://localhost:5501/v1/graphql",
		WSURL:      "ws://localhost:5501/v1/graphql",
		Schema:     "v2",
		RatePerSec: 20,
	}
	return Config{
		Network: "testnet",
		Indexer: IndexerSet{Mainnet: local, Testnet: local},
		Auth: AuthConfig{
			BaseURL:    "http://localhost:5502",
			PayloadTTL: duration{20 * time.Minute},
		},
		Wallet: WalletConfig{Chain: "-3"},
		Markets: map[string]MarketConfig{
			"ETH-USD": {Target: "Ethereum", Description: "Ethereum / U.S. Dollar"},
			"BTC-USD": {Target: "Bitcoin", Description: "Bitcoin / U.S. Dollar"},
			"TON-USD": {Target: "TON", Description: "TON / U.S. Dollar"},
		},
		Sync: SyncConfig{
			QuoteHistory:  1000,
			HistoryWindow: duration{7 * 24 * time.Hour},
			TopEvents:     3,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			Prefix:     "justersync:",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			BatchSize:     100,
			FlushInterval: duration{5 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "justersync-quotes",
			UseSSL:         false,
			ForcePathStyle: true,
			Retention:      duration{30 * 24 * time.Hour},
			Interval:       duration{6 * time.Hour},
			Prune:          true,
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			AuthRateLimit:  30,
			AuthRateWindow: duration{time.Minute},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// ActiveIndexer returns the indexer deployment of the configured network.
func (c *Config) ActiveIndexer() IndexerConfig {
	if strings.EqualFold(c.Network, "mainnet") {
		return c.Indexer.Mainnet
	}
	return c.Indexer.Testnet
}

// MarketSymbols returns the configured market symbols in sorted order.
func (c *Config) MarketSymbols() []string {
	out := make([]string, 0, len(c.Markets))
	for s := range c.Markets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":  true,
	"serve": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSchemas = map[string]bool{
	"":   true,
	"v1": true,
	"v2": true,
}

var validLevels = map[string]bool{
	"success": true,
	"warning": true,
	"error":   true,
	"info":    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, serve)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Network and the indexer it selects.
	network := strings.ToLower(c.Network)
	if network != "mainnet" && network != "testnet" {
		errs = append(errs, fmt.Sprintf("unknown network %q (valid: mainnet, testnet)", c.Network))
	} else {
		idx := c.ActiveIndexer()
		if strings.TrimSpace(idx.GraphQLURL) == "" {
			errs = append(errs, fmt.Sprintf("indexer.%s: graphql_url must not be empty", network))
		}
		if strings.TrimSpace(idx.WSURL) == "" {
			errs = append(errs, fmt.Sprintf("indexer.%s: ws_url must not be empty", network))
		}
		if !validSchemas[strings.ToLower(idx.Schema)] {
			errs = append(errs, fmt.Sprintf("indexer.%s: unknown schema %q (valid: v1, v2)", network, idx.Schema))
		}
		if idx.RatePerSec < 0 {
			errs = append(errs, fmt.Sprintf("indexer.%s: rate_per_sec must be >= 0", network))
		}
	}

	// Auth
	if strings.TrimSpace(c.Auth.BaseURL) == "" {
		errs = append(errs, "auth: base_url must not be empty")
	}
	if c.Auth.PayloadTTL.Duration <= 0 {
		errs = append(errs, "auth: payload_ttl must be > 0")
	}

	// Wallet: a proof needs an account to belong to.
	if c.Wallet.ProofFile != "" && c.Wallet.Address == "" {
		errs = append(errs, "wallet: address is required when proof_file is set")
	}

	// Markets
	if len(c.Markets) == 0 {
		errs = append(errs, "markets: at least one market must be configured")
	}
	for symbol := range c.Markets {
		if strings.TrimSpace(symbol) == "" {
			errs = append(errs, "markets: symbol must not be empty")
		}
	}

	// Sync
	if c.Sync.QuoteHistory < 1 {
		errs = append(errs, "sync: quote_history must be >= 1")
	}
	if c.Sync.TopEvents < 1 {
		errs = append(errs, "sync: top_events must be >= 1")
	}
	if c.Sync.HistoryWindow.Duration <= 0 {
		errs = append(errs, "sync: history_window must be > 0")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: requires postgres.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Retention.Duration <= 0 {
			errs = append(errs, "s3: retention must be > 0")
		}
		if c.S3.Interval.Duration <= 0 {
			errs = append(errs, "s3: interval must be > 0")
		}
	}

	// Server
	if strings.EqualFold(c.Mode, "serve") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AuthRateLimit < 0 {
			errs = append(errs, "server: auth_rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, l := range c.Notify.Levels {
		if !validLevels[strings.ToLower(l)] {
			errs = append(errs, fmt.Sprintf("notify: unknown level %q (valid: success, warning, error, info)", l))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
