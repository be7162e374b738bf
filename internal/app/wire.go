package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/justersync/internal/blob/s3"
	"github.com/alanyoungcy/justersync/internal/cache/redis"
	"github.com/alanyoungcy/justersync/internal/config"
	"github.com/alanyoungcy/justersync/internal/crypto"
	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/gateway"
	"github.com/alanyoungcy/justersync/internal/livesync"
	"github.com/alanyoungcy/justersync/internal/metrics"
	"github.com/alanyoungcy/justersync/internal/notify"
	"github.com/alanyoungcy/justersync/internal/platform/indexer"
	"github.com/alanyoungcy/justersync/internal/prefs"
	"github.com/alanyoungcy/justersync/internal/session"
	"github.com/alanyoungcy/justersync/internal/state"
	"github.com/alanyoungcy/justersync/internal/store/postgres"
)

// migrationLockTTL bounds how long one instance may hold the migration lock.
const migrationLockTTL = 2 * time.Minute

// Dependencies bundles every component the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Network domain.Network
	Metrics *metrics.Metrics

	// Redis
	Redis       *redis.Client
	SignalBus   *redis.SignalBus
	QuoteCache  *redis.QuoteCache
	RateLimiter *redis.RateLimiter
	Bridge      *redis.Bridge

	// Postgres, nil unless postgres.enabled.
	Postgres *postgres.Client
	Quotes   *postgres.QuoteStore
	Recorder *postgres.Recorder

	// Object storage, nil unless s3.enabled.
	S3       *s3blob.Client
	Archiver *s3blob.QuoteArchiver

	// Indexer and state
	Indexer       *indexer.Client
	Gateway       *gateway.Gateway
	Store         *state.Store
	Notifications *state.Notifications
	Prefs         *prefs.Prefs

	// Live sync and session
	Syncer   *livesync.Syncer
	Wallet   *session.StaticWallet
	Session  *session.Manager
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Prefix:     cfg.Redis.Prefix,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.QuoteCache = redis.NewQuoteCache(redisClient, logger)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Preferences and the active network ---
	var kv prefs.KV = redis.NewHashKV(redisClient)
	if cfg.Auth.TokenKey != "" {
		sealer, err := crypto.NewSealer(cfg.Auth.TokenKey)
		if err != nil {
			return fail(fmt.Errorf("wire: token sealer: %w", err))
		}
		kv = prefs.SealKeys(kv, sealer, logger, prefs.KeyAuthToken)
	}
	deps.Prefs = prefs.New(kv, logger)
	network, err := deps.Prefs.SeedNetwork(ctx, domain.Network(strings.ToLower(cfg.Network)))
	if err != nil {
		return fail(fmt.Errorf("wire: network: %w", err))
	}
	deps.Network = network
	if _, err := deps.Prefs.SyncFlags(ctx); err != nil {
		return fail(fmt.Errorf("wire: flags: %w", err))
	}

	// --- PostgreSQL quote archive ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := migrate(ctx, redis.NewLockManager(redisClient), pgClient, logger); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		deps.Postgres = pgClient
		deps.Quotes = postgres.NewQuoteStore(pgClient.Pool())
		deps.Recorder = postgres.NewRecorder(deps.Quotes, postgres.RecorderOptions{
			BatchSize:     cfg.Postgres.BatchSize,
			FlushInterval: cfg.Postgres.FlushInterval.Duration,
		}, deps.Metrics, logger)
	}

	// --- S3 cold storage for aged quotes ---
	if cfg.S3.Enabled && deps.Quotes != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			deps.Quotes,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			redis.NewLockManager(redisClient),
			s3blob.ArchiverOptions{
				Network:   network,
				Retention: cfg.S3.Retention.Duration,
				Interval:  cfg.S3.Interval.Duration,
				Prune:     cfg.S3.Prune,
			},
			deps.Metrics,
			logger,
		)
	}

	// --- Indexer ---
	cfg.Network = string(network)
	idxCfg := cfg.ActiveIndexer()
	if strings.TrimSpace(idxCfg.GraphQLURL) == "" {
		return fail(fmt.Errorf("wire: indexer.%s: graphql_url is required: %w", network, domain.ErrInvalidArgument))
	}
	schema, err := indexer.SchemaByName(idxCfg.Schema)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Indexer = indexer.NewClient(indexer.Options{
		GraphQLURL: idxCfg.GraphQLURL,
		WSURL:      idxCfg.WSURL,
		Schema:     schema,
		RatePerSec: idxCfg.RatePerSec,
		Logger:     logger,
	})
	closers = append(closers, func() { _ = deps.Indexer.Close() })
	deps.Gateway = gateway.New(deps.Indexer, deps.Metrics, logger)

	// --- State and notifications ---
	deps.Store = state.New()
	deps.Notifications = state.NewNotifications(deps.Store)
	closers = append(closers, deps.Notifications.Close)
	deps.Notifier = notify.NewNotifier(deps.Notifications, senders(cfg.Notify), cfg.Notify.Levels, logger)
	deps.Bridge = redis.NewBridge(redisClient, deps.SignalBus, deps.Store, logger)

	// --- Live sync ---
	sinks := quoteSinks{deps.QuoteCache}
	if deps.Recorder != nil {
		sinks = append(sinks, deps.Recorder)
	}
	supported := make(map[string]livesync.MarketInfo, len(cfg.Markets))
	for symbol, m := range cfg.Markets {
		supported[symbol] = livesync.MarketInfo{Target: m.Target, Description: m.Description}
	}
	deps.Syncer = livesync.NewSyncer(deps.Gateway, deps.Store, livesync.Options{
		Supported:     supported,
		QuoteHistory:  cfg.Sync.QuoteHistory,
		HistoryWindow: cfg.Sync.HistoryWindow.Duration,
		TopEvents:     cfg.Sync.TopEvents,
		QuoteSink:     sinks,
	}, deps.Metrics, logger)
	closers = append(closers, deps.Syncer.Close)

	// --- Wallet and session ---
	wallet, err := newWallet(cfg.Wallet)
	if err != nil {
		return fail(fmt.Errorf("wire: wallet: %w", err))
	}
	deps.Wallet = wallet
	deps.Session = session.NewManager(
		session.NewAuthClient(cfg.Auth.BaseURL, logger),
		deps.Prefs,
		wallet,
		deps.Syncer,
		deps.Syncer.Account(),
		deps.Notifier,
		session.ManagerOptions{PayloadTTL: cfg.Auth.PayloadTTL.Duration},
		logger,
	)
	closers = append(closers, deps.Session.Close)

	return deps, cleanup, nil
}

// migrate applies the embedded migrations under the cluster-wide
// "migrations" lock.
func migrate(ctx context.Context, locks *redis.LockManager, pg *postgres.Client, logger *slog.Logger) error {
	waitCtx, cancel := context.WithTimeout(ctx, migrationLockTTL)
	defer cancel()

	unlock, err := locks.AcquireWait(waitCtx, "migrations", migrationLockTTL, 500*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("migration lock: %w", domain.ErrLockHeld)
		}
		return err
	}
	defer unlock()

	applied, err := pg.RunMigrations(ctx)
	if len(applied) > 0 {
		logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
	}
	return err
}

func senders(cfg config.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return out
}

// newWallet builds the wallet connected at startup. An empty address leaves
// it disconnected until a proof arrives over the HTTP API.
func newWallet(cfg config.WalletConfig) (*session.StaticWallet, error) {
	account := domain.WalletAccount{
		Address:         cfg.Address,
		Chain:           cfg.Chain,
		PublicKey:       cfg.PublicKey,
		WalletStateInit: cfg.StateInit,
	}
	var proof *domain.Proof
	if cfg.ProofFile != "" {
		p, err := session.LoadProof(cfg.ProofFile)
		if err != nil {
			return nil, err
		}
		proof = p
	}
	return session.NewStaticWallet(account, proof), nil
}

// quoteSinks fans accepted quotes out to every sink.
type quoteSinks []livesync.QuoteSink

func (s quoteSinks) RecordQuote(symbol string, q domain.Quote) {
	for _, sink := range s {
		sink.RecordQuote(symbol, q)
	}
}
