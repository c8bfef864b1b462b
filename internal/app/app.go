package app

import (
	"context"
	"fmt"

	"coinpulse/config"
	"coinpulse/internal/aggregate"
	"coinpulse/internal/alert"
	"coinpulse/internal/api"
	"coinpulse/internal/cache"
	"coinpulse/internal/ingest"
	"coinpulse/internal/notify"
	"coinpulse/internal/retention"
	"coinpulse/internal/scheduler"
	"coinpulse/pkg/listing"
	"coinpulse/pkg/storage/memory"
	"coinpulse/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Store is everything the pipeline needs from the store adapter.
type Store interface {
	ingest.Store
	aggregate.Store
	alert.Store
	notify.Store
	retention.Store
	api.Store
	Close() error
}

// App owns the pipeline components and their lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store      Store
	cooldown   cache.CooldownCache
	kafka      *notify.KafkaChannel
	syncer     *ingest.Syncer
	aggregator *aggregate.Aggregator
	evaluator  *alert.Evaluator
	dispatcher *notify.Dispatcher
	cleaner    *retention.Cleaner
	scheduler  *scheduler.SchedulerService
	http       *api.Server
}

// New connects the store and caches and wires every component. Nothing runs
// until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	switch cfg.Alerts.CooldownCache {
	case "redis":
		rc, err := cache.NewRedisCooldown(ctx, cfg.Redis, cfg.Storage.ConnectTimeout, logger)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.cooldown = rc
	default:
		a.cooldown = cache.NewMemoryCooldown()
	}

	var channel notify.Channel
	switch cfg.Notifications.Channel {
	case "kafka":
		a.kafka = notify.NewKafkaChannel(cfg.Kafka, logger)
		channel = a.kafka
	default:
		channel = notify.NewLogChannel(logger)
	}

	client := listing.NewRESTClient(cfg.Listing.BaseURL, cfg.Listing.Timeout, cfg.Listing.Convert)
	fetcher := ingest.NewFetcher(client, cfg.Listing.PageDelay, logger)
	a.syncer = ingest.NewSyncer(fetcher, store, ingest.SyncOptions{
		PageSize:          cfg.Listing.PageSize,
		MaxCount:          cfg.Listing.MaxCount,
		DeactivateMissing: cfg.Sync.DeactivateMissing,
	}, logger)

	a.aggregator = aggregate.NewAggregator(store, cfg.Aggregation.QuoteCurrency, logger)
	a.evaluator = alert.NewEvaluator(store, a.cooldown, cfg.Alerts.QuoteCurrency, cfg.Alerts.Workers, logger)
	a.dispatcher = notify.NewDispatcher(store, channel, cfg.Notifications.RetryGrace, logger)
	a.cleaner = retention.NewCleaner(store, cfg.Retention, logger)

	a.scheduler = scheduler.NewService(logger)
	if err := a.registerTasks(); err != nil {
		a.closeAll()
		return nil, err
	}

	if cfg.HTTP.Enabled {
		h := api.NewHandler(a.scheduler, store, a.aggregator, logger.Named("api"))
		a.http = api.NewServer(cfg.HTTP, h, logger)
	}

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.NewStore(cfg.Storage.BatchSize, logger), nil
	default:
		client, err := postgres.InitializeAndMigrate(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		return client, nil
	}
}

func (a *App) registerTasks() error {
	sc := a.cfg.Scheduler
	specs := []scheduler.TaskSpec{
		{
			Name:        scheduler.TaskSync,
			Description: "fetch listings, store snapshots, evaluate alerts and send notifications",
			Interval:    sc.Sync.Interval,
			Enabled:     sc.Sync.Enabled,
			RunOnStart:  sc.Sync.RunOnStart,
			Run:         a.runSync,
		},
		{
			Name:        scheduler.TaskAggregation,
			Description: "roll snapshots up into 1h/1d/1w/1M history",
			Interval:    sc.Aggregation.Interval,
			Enabled:     sc.Aggregation.Enabled,
			RunOnStart:  sc.Aggregation.RunOnStart,
			Run:         a.runAggregation,
		},
		{
			Name:        scheduler.TaskCleanup,
			Description: "delete snapshots and history past retention",
			Interval:    sc.Cleanup.Interval,
			Enabled:     sc.Cleanup.Enabled,
			RunOnStart:  sc.Cleanup.RunOnStart,
			Run:         a.runCleanup,
		},
		{
			Name:        scheduler.TaskNotificationRetry,
			Description: "re-send pending and failed notifications",
			Interval:    sc.NotificationRetry.Interval,
			Enabled:     sc.NotificationRetry.Enabled,
			RunOnStart:  sc.NotificationRetry.RunOnStart,
			Run:         a.runNotificationRetry,
		},
	}

	for _, spec := range specs {
		if err := a.scheduler.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// runSync is one full ingestion cycle followed by alert evaluation and a
// single delivery attempt for every new notification. Cancellation stops the
// fetch; once snapshots are written the rest of the cycle runs to completion.
func (a *App) runSync(ctx context.Context) error {
	res, err := a.syncer.Run(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		a.logger.Info("shutting down, alert evaluation deferred to next cycle")
		return err
	}
	ctx = context.WithoutCancel(ctx)

	summary, err := a.evaluator.EvaluateSince(ctx, res.Timestamp)
	if err != nil {
		return err
	}

	if len(summary.Notifications) > 0 {
		out := a.dispatcher.SendAll(ctx, summary.Notifications)
		a.logger.Info("notifications dispatched", zap.Int("sent", out.Sent), zap.Int("failed", out.Failed))
	}
	return nil
}

// runAggregation, runCleanup and runNotificationRetry only write to the
// store; a run that has started finishes even when the scheduler is stopping.
func (a *App) runAggregation(ctx context.Context) error {
	return aggregate.Err(a.aggregator.Run(context.WithoutCancel(ctx)))
}

func (a *App) runCleanup(ctx context.Context) error {
	_, err := a.cleaner.Run(context.WithoutCancel(ctx))
	return err
}

func (a *App) runNotificationRetry(ctx context.Context) error {
	_, err := a.dispatcher.RetryPending(context.WithoutCancel(ctx), a.cfg.Notifications.MaxAttempts, a.cfg.Notifications.RetryBatch)
	return err
}

// Scheduler exposes the task scheduler.
func (a *App) Scheduler() *scheduler.SchedulerService {
	return a.scheduler
}

// Start launches the scheduler and, when enabled, the HTTP server.
func (a *App) Start(ctx context.Context) {
	a.scheduler.Start(ctx)
	if a.http != nil {
		a.http.Start()
	}
}

// Shutdown stops accepting requests, cancels in-flight fetches, waits for
// task runs until ctx is done and closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
	}
	err := a.scheduler.Stop(ctx)
	a.closeAll()
	return err
}

func (a *App) closeAll() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if a.cooldown != nil {
		if err := a.cooldown.Close(); err != nil {
			a.logger.Warn("failed to close cooldown cache", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}
