package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/wagerlab/escrowd/internal/blob/s3"
	"github.com/wagerlab/escrowd/internal/cache/local"
	"github.com/wagerlab/escrowd/internal/cache/redis"
	"github.com/wagerlab/escrowd/internal/config"
	"github.com/wagerlab/escrowd/internal/crypto"
	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/notify"
	"github.com/wagerlab/escrowd/internal/store/memory"
	"github.com/wagerlab/escrowd/internal/store/postgres"
	"github.com/wagerlab/escrowd/internal/token"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Bets      domain.BetStore
	Journal   domain.CustodyJournal
	Configs   domain.ConfigStore
	Allowlist domain.AllowlistStore
	Audit     domain.AuditStore

	// Token custody
	Tokens domain.TokenLedger

	// Coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
//
// In "serve" mode the stores are Postgres-backed, coordination runs on
// Redis, and custody moves real ERC-20 tokens over the chain RPC. In "dev"
// mode everything runs in-process: in-memory stores, local locks and bus,
// and a simulated token ledger.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	switch cfg.Mode {
	case "dev":
		deps.Bets = memory.NewBetStore()
		deps.Journal = memory.NewCustodyJournal()
		deps.Configs = memory.NewConfigStore()
		deps.Allowlist = memory.NewAllowlistStore()
		deps.Audit = memory.NewAuditStore()

		deps.Tokens = token.NewMemoryLedger(devCustodyAddress)

		deps.RateLimiter = local.NewRateLimiter()
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewSignalBus()

	default: // serve
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

		pool := pgClient.Pool()
		deps.Bets = postgres.NewBetStore(pool)
		deps.Journal = postgres.NewCustodyStore(pool)
		deps.Configs = postgres.NewConfigStore(pool)
		deps.Allowlist = postgres.NewAllowlistStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)

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

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)

		// --- Chain custody ---
		key, err := crypto.LoadECDSAKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: custody key: %w", err)
		}
		custodian, err := token.NewCustodian(cfg.Chain.RPCURL, cfg.Chain.ChainID, key)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: custodian: %w", err)
		}
		closers = append(closers, custodian.Close)
		deps.Tokens = custodian
	}

	// --- S3 blob storage (only when archiving is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Bets, deps.Audit, deps.Audit)
	}

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

	return deps, cleanup, nil
}
