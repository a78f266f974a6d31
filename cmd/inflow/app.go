package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soochol/inflow/internal/api"
	"github.com/soochol/inflow/internal/config"
	"github.com/soochol/inflow/internal/correlation"
	"github.com/soochol/inflow/internal/db"
	"github.com/soochol/inflow/internal/listeners"
	"github.com/soochol/inflow/internal/liveness"
	"github.com/soochol/inflow/internal/metrics"
	"github.com/soochol/inflow/internal/repository"
	"github.com/soochol/inflow/internal/services"
	"github.com/soochol/inflow/internal/services/scheduler"
)

// app holds the wired components of a serving process.
type app struct {
	database    *db.DB
	scheduler   *scheduler.Scheduler
	coordinator *services.LifecycleCoordinator
	importer    *services.ImportService
	watcher     *services.DirectoryWatcher
	server      *api.Server

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	rt := &app{}

	var defs repository.DefinitionRepository = repository.NewMemoryDefinitionRepository()
	var subs repository.SubscriptionRepository = repository.NewMemorySubscriptionRepository()
	if cfg.Database.URL != "" {
		database, err := db.New(ctx, cfg.Database.URL, db.PoolOptions{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		rt.database = database
		defs = repository.NewPersistentDefinitionRepository(repository.NewMemoryDefinitionRepository(), database)
		subs = repository.NewPersistentSubscriptionRepository(repository.NewMemorySubscriptionRepository(), database)
		slog.Info("inflow: using PostgreSQL storage")
	} else {
		slog.Info("inflow: using in-memory storage")
	}

	var engine correlation.Engine = correlation.LoggingEngine{}
	if cfg.Engine.URL != "" {
		engine = correlation.NewEngineClient(correlation.EngineConfig{
			URL:          cfg.Engine.URL,
			ClientID:     cfg.Engine.ClientID,
			ClientSecret: cfg.Engine.ClientSecret,
			TokenURL:     cfg.Engine.TokenURL,
		})
	} else {
		slog.Warn("inflow: no engine configured, process starts and messages are only logged")
	}

	recorder := metrics.NewRecorder()
	registry := services.NewListenerRegistry(listeners.NewDefaultRegistry(), correlation.NewHandler(engine), recorder, recorder)
	registry.SetActivityLogSize(cfg.Inbound.ActivityLogSize)

	var router *services.WebhookRouter
	if cfg.Inbound.WebhooksEnabled {
		router = services.NewWebhookRouter()
		registry.SetWebhookRouter(router)
	}

	rt.coordinator = services.NewLifecycleCoordinator(
		liveness.NewStore(),
		registry,
		services.NewDocumentInspector(defs),
		services.NewConcurrencyLimiter(cfg.Inbound.Concurrency),
		cfg.Inbound.Workers,
	)
	definitionSvc := services.NewDefinitionService(defs, rt.coordinator, rt.coordinator)

	rt.scheduler = scheduler.New()
	rt.importer = services.NewImportService(rt.scheduler, defs, subs, rt.coordinator,
		cfg.Inbound.ImportSchedule, cfg.Inbound.SubscriptionSchedule)
	if cfg.Inbound.DefinitionsDir != "" {
		rt.watcher = services.NewDirectoryWatcher(cfg.Inbound.DefinitionsDir, definitionSvc)
	}

	rt.server = api.NewServer(registry)
	rt.server.SetCORSOrigins(cfg.Server.CORSOrigins)
	rt.server.SetMetricsRecorder(recorder)
	rt.server.SetDefinitionService(definitionSvc)
	rt.server.SetSubscriptionRepository(subs)
	rt.server.SetImportService(rt.importer)
	if router != nil {
		rt.server.SetWebhookRouter(router)
	}
	return rt, nil
}

func (rt *app) start(ctx context.Context) error {
	if err := rt.importer.Start(ctx); err != nil {
		return err
	}
	rt.scheduler.Start()

	if rt.watcher != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		rt.watchCancel = cancel
		rt.watchDone = make(chan struct{})
		go func() {
			defer close(rt.watchDone)
			if err := rt.watcher.Run(watchCtx); err != nil {
				slog.Error("inflow: definitions watcher stopped", "err", err)
			}
		}()
	}
	return nil
}

// stop halts the background jobs, then deactivates every listener.
func (rt *app) stop(ctx context.Context) error {
	if rt.watchCancel != nil {
		rt.watchCancel()
		<-rt.watchDone
	}
	rt.importer.Stop()
	rt.scheduler.Stop()
	return rt.coordinator.Shutdown(ctx)
}

func (rt *app) close() {
	if rt.database != nil {
		rt.database.Close()
	}
}
