// Package app wires the worker together: repositories, queue
// substrate, rule engine, state machine, monitor, dispatch and the ops
// HTTP surface, all under one fx lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	redisstore "github.com/shelfjetlabs/shelfjet-worker/internal/adapter/keyvalue/redis"
	"github.com/shelfjetlabs/shelfjet-worker/internal/adapter/repository/postgres"
	"github.com/shelfjetlabs/shelfjet-worker/internal/alert"
	"github.com/shelfjetlabs/shelfjet-worker/internal/api"
	"github.com/shelfjetlabs/shelfjet-worker/internal/config"
	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/job"
	"github.com/shelfjetlabs/shelfjet-worker/internal/health"
	"github.com/shelfjetlabs/shelfjet-worker/internal/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/internal/jobs"
	"github.com/shelfjetlabs/shelfjet-worker/internal/notify"
	"github.com/shelfjetlabs/shelfjet-worker/internal/queue"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/db"
	zaplog "github.com/shelfjetlabs/shelfjet-worker/pkg/log"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/metrics"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/shutdown"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/snowflake"
	"github.com/shelfjetlabs/shelfjet-worker/sql/migrations"
)

// RunWorker starts the worker process and blocks until shutdown.
func RunWorker() {
	app := fx.New(
		fx.Provide(
			// Config
			config.Load,

			// Repositories
			postgres.NewAlertRuleRepository,
			postgres.NewAlertLogRepository,
			postgres.NewListingRepository,
			postgres.NewInventoryAlertRepository,
			postgres.NewProductStatsRepository,
			postgres.NewJobLogRepository,
			fx.Annotate(
				postgres.NewDeadLetterRepository,
				fx.As(new(job.DeadLetterRepository)),
			),
			postgres.NewExchangeRateRepository,

			// Core services
			newQueue,
			newScheduler,
			newManager,
			newAlertEngine,
			newInventoryService,
			newMonitor,
			newEscalationNotifier,
			newNotifyRegistry,
			newDispatcher,
			notify.NewLogTracker,
			newProcessors,
			newCoordinator,

			// Ops API
			api.NewRouter,
		),
		db.Module,         // Database Module
		snowflake.Module,  // Snowflake ID Module
		zaplog.Module,     // Logger Module
		metrics.Module,    // Prometheus Module
		redisstore.Module, // Redis Module
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting database migration...", zap.String("command", command))

	dbURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("Migration up applied")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("Migration down applied")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

func newQueue(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) *queue.Queue {
	return queue.New(
		rdb,
		logger,
		cfg.JobMaxAttempts,
		time.Duration(cfg.JobBackoffBaseSec)*time.Second,
	)
}

func newScheduler(cfg *config.Config, q *queue.Queue, rdb *redis.Client, logger *zap.Logger) *queue.Scheduler {
	return queue.NewScheduler(q, rdb, logger, time.Duration(cfg.SchedulerTickSec)*time.Second)
}

func newManager(
	cfg *config.Config,
	q *queue.Queue,
	logger *zap.Logger,
	m *metrics.Metrics,
	jobLogs *postgres.JobLogRepository,
	deadLetters job.DeadLetterRepository,
	monitor *health.Monitor,
	notifier *notify.EscalationNotifier,
	tracker *notify.LogTracker,
) *queue.Manager {
	return queue.NewManager(
		q, logger, m,
		jobLogs, deadLetters,
		monitor, notifier, tracker,
		time.Duration(cfg.DelayedPromoteTickMS)*time.Millisecond,
	)
}

func newAlertEngine(
	cfg *config.Config,
	rules *postgres.AlertRuleRepository,
	logs *postgres.AlertLogRepository,
	q *queue.Queue,
	store *redisstore.Store,
	logger *zap.Logger,
	m *metrics.Metrics,
) *alert.Engine {
	return alert.NewEngine(rules, logs, q, store, store, store, logger, m, cfg.WebAppURL)
}

func newInventoryService(
	cfg *config.Config,
	listings *postgres.ListingRepository,
	alerts *postgres.InventoryAlertRepository,
	engine *alert.Engine,
	logger *zap.Logger,
) *inventory.Service {
	return inventory.NewService(
		listings, alerts, engine, logger,
		cfg.LowStockThreshold,
		time.Duration(cfg.InventoryCooldownMin)*time.Minute,
		time.Duration(cfg.ResumeDelayMin)*time.Minute,
		cfg.ResumeSweepBatchSize,
	)
}

func newMonitor(
	cfg *config.Config,
	jobLogs *postgres.JobLogRepository,
	deadLetters job.DeadLetterRepository,
	products *postgres.ProductStatsRepository,
	rates *postgres.ExchangeRateRepository,
	store *redisstore.Store,
	notifier *notify.EscalationNotifier,
	logger *zap.Logger,
) *health.Monitor {
	return health.NewMonitor(jobLogs, deadLetters, products, rates, store, notifier, logger, health.Thresholds{
		EscalationAttemptsMin:   cfg.EscalationAttemptsMin,
		ConsecutiveFailureLimit: cfg.ConsecutiveFailureLimit,
		FailureRateThresholdPct: cfg.FailureRateThresholdPct,
		FailureRateWindow:       time.Duration(cfg.FailureRateWindowMin) * time.Minute,
		FailureRateMinSamples:   cfg.FailureRateMinSamples,
		Cooldown:                time.Duration(cfg.HealthCooldownMin) * time.Minute,
		RatePair:                cfg.ExchangeRatePair,
	})
}

func newEscalationNotifier(cfg *config.Config, logger *zap.Logger) *notify.EscalationNotifier {
	return notify.NewEscalationNotifier(cfg.EscalationWebhookURL, logger)
}

// newNotifyRegistry registers the built-in channel adapters. Real
// email/chat transports register here once they exist.
func newNotifyRegistry(logger *zap.Logger) *notify.Registry {
	return notify.NewRegistry(
		notify.NewLogAdapter("email", logger),
		notify.NewLogAdapter("in_app", logger),
		notify.NewLogAdapter("webhook", logger),
	)
}

func newDispatcher(registry *notify.Registry, logs *postgres.AlertLogRepository, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(registry, logs, logger)
}

func newProcessors(
	cfg *config.Config,
	svc *inventory.Service,
	engine *alert.Engine,
	monitor *health.Monitor,
	rates *postgres.ExchangeRateRepository,
	jobLogs *postgres.JobLogRepository,
	logger *zap.Logger,
) *jobs.Processors {
	clients := []jobs.MarketplaceClient{
		jobs.NewStubMarketplace("rakuten"),
	}
	return jobs.NewProcessors(
		svc, engine, monitor, rates, jobLogs,
		clients,
		jobs.StaticRateSource{Value: decimal.NewFromInt(150)},
		cfg.ExchangeRatePair,
		time.Duration(cfg.JobLogRetentionDays)*24*time.Hour,
		logger,
	)
}

func newCoordinator(cfg *config.Config, logger *zap.Logger) *shutdown.Coordinator {
	return shutdown.NewCoordinator(logger, time.Duration(cfg.ShutdownGraceSec)*time.Second)
}

// registerHooks starts the worker pool, scheduler and ops server, and
// funnels every stop path through the shutdown coordinator.
func registerHooks(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	logger *zap.Logger,
	manager *queue.Manager,
	scheduler *queue.Scheduler,
	router *api.Router,
	processors *jobs.Processors,
	dispatcher *notify.Dispatcher,
	coordinator *shutdown.Coordinator,
) {
	var schedulerCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			jobs.BindLanes(manager, processors, dispatcher.Process)
			if err := jobs.RegisterSchedules(ctx, scheduler); err != nil {
				return fmt.Errorf("register schedules: %w", err)
			}

			// Hooks run in reverse order: scheduler stops first,
			// then the pool drains, then the ops server closes.
			coordinator.Register("ops-server", router.Shutdown)
			coordinator.Register("worker-pool", manager.Shutdown)
			coordinator.Register("scheduler", func(context.Context) error {
				if schedulerCancel != nil {
					schedulerCancel()
				}
				return nil
			})

			manager.Start(context.WithoutCancel(ctx))

			schedulerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			schedulerCancel = cancel
			go scheduler.Run(schedulerCtx)

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Error("ops server failed", zap.Error(err))
					coordinator.Shutdown("ops-server-error")
					_ = sd.Shutdown()
				}
			}()

			logger.Info("worker started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			coordinator.Shutdown("lifecycle")
			select {
			case <-coordinator.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
