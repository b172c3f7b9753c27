package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/poolregistry/internal/blob/s3"
	"github.com/alanyoungcy/poolregistry/internal/cache/redis"
	"github.com/alanyoungcy/poolregistry/internal/config"
	"github.com/alanyoungcy/poolregistry/internal/domain"
	"github.com/alanyoungcy/poolregistry/internal/notify"
	"github.com/alanyoungcy/poolregistry/internal/registry"
	"github.com/alanyoungcy/poolregistry/internal/server/handler"
	"github.com/alanyoungcy/poolregistry/internal/service"
	"github.com/alanyoungcy/poolregistry/internal/store/postgres"
)

// Dependencies bundles everything the run loop needs. Optional backends are
// nil when disabled in config.
type Dependencies struct {
	Registry *registry.Registry
	Pools    *service.PoolService
	Metrics  *prometheus.Registry

	// Optional backends.
	AuditStore  domain.AuditStore
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader

	Notifier *notify.Notifier

	// HealthChecks probe each enabled backend on GET /health.
	HealthChecks map[string]handler.HealthCheck
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

	deps := &Dependencies{
		Registry:     registry.New(),
		Metrics:      prometheus.NewRegistry(),
		HealthChecks: map[string]handler.HealthCheck{},
	}
	deps.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- PostgreSQL audit log ---
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
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis event bus, rate limiter, locks ---
	if cfg.Redis.Enabled {
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

		deps.SignalBus = redis.NewEventBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 snapshot storage ---
	if cfg.S3.Enabled {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client, 0)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.TitlePrefix, logger)

	// --- Service layer ---
	poolDeps := service.PoolServiceDeps{
		Registry: deps.Registry,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Metrics:  service.NewMetrics(deps.Metrics),
		Logger:   logger,
	}
	if deps.Notifier.Enabled() {
		poolDeps.Notifier = deps.Notifier
	}
	deps.Pools = service.NewPoolService(poolDeps)

	return deps, cleanup, nil
}
