package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/nftfolio/listingd/internal/blob/s3"
	"github.com/nftfolio/listingd/internal/cache/redis"
	"github.com/nftfolio/listingd/internal/config"
	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/notify"
	"github.com/nftfolio/listingd/internal/platform/moralis"
	"github.com/nftfolio/listingd/internal/platform/nftgo"
	"github.com/nftfolio/listingd/internal/store/postgres"
	"github.com/nftfolio/listingd/internal/wallet"
	"github.com/nftfolio/listingd/internal/workflow"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Store
	WorkflowStore *postgres.WorkflowStore

	// Caches
	ListingCache   domain.ListingCache
	PortfolioCache domain.PortfolioCache
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager
	SignalBus      domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Platform clients
	Signer  *wallet.Signer
	NFTGo   *nftgo.Client
	Moralis *moralis.Client

	// Workflow sessions
	Manager *workflow.Manager

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.WorkflowStore = postgres.NewWorkflowStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.ListingCache = redis.NewListingCache(redisClient)
	deps.PortfolioCache = redis.NewPortfolioCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.WorkflowStore)
	}

	// --- Wallet signer ---
	privateKey, err := wallet.ResolveKey(wallet.KeySource{
		RawPrivateKey: cfg.Wallet.PrivateKey,
		KeyfilePath:   cfg.Wallet.EncryptedKeyPath,
		Password:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}
	signer, err := wallet.NewSigner(privateKey, cfg.Wallet.ChainID, cfg.Wallet.RPCURL, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: wallet signer: %w", err)
	}
	closers = append(closers, signer.Close)
	deps.Signer = signer

	// --- Platform clients ---
	deps.NFTGo = nftgo.NewClient(cfg.NFTGo.BaseURL, cfg.NFTGo.APIKey)
	deps.Moralis = moralis.NewClient(cfg.Moralis.BaseURL, cfg.Moralis.APIKey, cfg.Moralis.Chain)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Workflow sessions ---
	deps.Manager = workflow.NewManager(
		workflow.Config{
			PollInterval:       cfg.Workflow.PollInterval.Duration,
			PollTimeout:        cfg.Workflow.PollTimeout.Duration,
			EmptyPollThreshold: cfg.Workflow.EmptyPollThreshold,
			SettleDelay:        cfg.Workflow.SettleDelay.Duration,
			ReceiptInterval:    cfg.Workflow.ReceiptInterval.Duration,
			ReceiptTimeout:     cfg.Workflow.ReceiptTimeout.Duration,
			RefreshCooldown:    cfg.Workflow.RefreshCooldown.Duration,
			LockTTL:            cfg.Workflow.LockTTL.Duration,
		},
		signer,
		deps.NFTGo,
		deps.WorkflowStore,
		deps.ListingCache,
		deps.RateLimiter,
		deps.LockManager,
		deps.SignalBus,
		deps.Notifier,
		logger,
	)
	closers = append(closers, deps.Manager.Close)

	return deps, cleanup, nil
}
