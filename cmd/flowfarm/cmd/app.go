package cmd

import (
	"context"
	"fmt"

	"github.com/aescanero/flowfarm/internal/application/orchestrator"
	"github.com/aescanero/flowfarm/internal/application/steps"
	"github.com/aescanero/flowfarm/internal/application/workers"
	"github.com/aescanero/flowfarm/internal/config"
	"github.com/aescanero/flowfarm/internal/ports"
	"github.com/aescanero/flowfarm/pkg/adapters/browser/chromedp"
	"github.com/aescanero/flowfarm/pkg/adapters/events"
	memorybus "github.com/aescanero/flowfarm/pkg/adapters/events/memory"
	redisbus "github.com/aescanero/flowfarm/pkg/adapters/events/redis"
	"github.com/aescanero/flowfarm/pkg/adapters/mailbox/imap"
	"github.com/aescanero/flowfarm/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/flowfarm/pkg/adapters/profiles/httpapi"
	memorystorage "github.com/aescanero/flowfarm/pkg/adapters/storage/memory"
	pgstorage "github.com/aescanero/flowfarm/pkg/adapters/storage/postgres"
	redisstorage "github.com/aescanero/flowfarm/pkg/adapters/storage/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the wired components shared by serve and run
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	eventBus  ports.EventBus
	workflows ports.WorkflowRepository
	entities  ports.EntityStore
	runStore  ports.RunStore
	metrics   *prometheus.Collector
	manager   *orchestrator.Manager
	health    *workers.HealthMonitor

	redis *goredis.Client
	pg    *pgxpool.Pool
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.UsesRedis() {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Workflows, run snapshots and events
	switch cfg.StoreBackend {
	case config.BackendRedis:
		a.eventBus = redisbus.NewStreamsEventBus(a.redis, cfg.Redis.StreamMaxLen, logger)
		a.workflows = redisstorage.NewWorkflowRepository(a.redis, logger)
		a.runStore = redisstorage.NewRunStore(a.redis, cfg.Runs.SnapshotTTL, logger)
	default:
		a.eventBus = memorybus.NewInMemoryEventBus(logger)
		a.workflows = memorystorage.NewWorkflowRepository()
		a.runStore = memorystorage.NewRunStore()
	}

	// Accounts and proxy pools
	switch cfg.EntityStoreBackend() {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		a.pg = pool
		if err := pool.Ping(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := pgstorage.NewEntityStore(pool, logger)
		if cfg.Postgres.Migrate {
			if err := store.Migrate(ctx); err != nil {
				a.close()
				return nil, err
			}
		}
		a.entities = store
		logger.Info("connected to postgres")
	case config.BackendRedis:
		a.entities = redisstorage.NewEntityStore(a.redis, logger)
	default:
		a.entities = memorystorage.NewEntityStore()
	}

	a.metrics = prometheus.NewCollector(nil)

	deps := steps.Deps{
		Store:   a.entities,
		Browser: chromedp.NewBrowser(logger),
		Mail: imap.NewProvider(imap.Config{
			Addr:      cfg.Mail.IMAPAddr,
			TokenURL:  cfg.Mail.TokenURL,
			Scopes:    cfg.Mail.Scopes,
			Mechanism: cfg.Mail.Mechanism,
			Folders:   cfg.Mail.Folders,
			Timeout:   cfg.Mail.Timeout,
		}, logger),
		Logger: logger,
	}
	if cfg.Profiles.APIURL != "" {
		client, err := httpapi.NewClient(httpapi.Config{
			BaseURL:    cfg.Profiles.APIURL,
			APIKey:     cfg.Profiles.APIKey,
			LocalDir:   cfg.Profiles.LocalDir,
			Timeout:    cfg.Profiles.Timeout,
			MaxRetries: cfg.Profiles.MaxRetries,
		}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		deps.Profiles = client
	} else {
		logger.Warn("PROFILE_API_URL is not set, profile steps will fail")
	}

	a.manager = orchestrator.NewManager(
		a.workflows,
		a.entities,
		a.runStore,
		events.NewBusSink(a.eventBus, "", logger),
		a.metrics,
		steps.NewRegistry(deps),
		logger,
		orchestrator.Options{
			StepTimeout:     cfg.Engine.StepTimeout,
			MaxSteps:        cfg.Engine.MaxSteps,
			MaxLogEntries:   cfg.Engine.MaxLogEntries,
			Retention:       cfg.Runs.Retention,
			JanitorInterval: cfg.Runs.JanitorInterval,
			ReleaseTimeout:  cfg.Engine.ReleaseTimeout,
		},
	)

	a.health = workers.NewHealthMonitor(a.manager, a.metrics, cfg.Runs.HealthCheckInterval, logger)
	if a.redis != nil {
		a.health.AddDependency("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.pg != nil {
		a.health.AddDependency("postgres", a.pg.Ping)
	}

	return a, nil
}

// shutdown stops the manager and closes connections
func (a *app) shutdown(ctx context.Context) {
	a.health.Stop()
	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Error("orchestrator shutdown error", zap.Error(err))
	}
	if err := a.eventBus.Close(); err != nil {
		a.logger.Error("event bus close error", zap.Error(err))
	}
	a.close()
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
