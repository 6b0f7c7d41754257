package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/viralforge/commerce-mesh/platform/bus"
	"github.com/viralforge/commerce-mesh/platform/eventing"
	"github.com/viralforge/commerce-mesh/platform/outbox"
	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/platform/server"
	eventadapter "github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/events"
	httpadapter "github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/http"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/memory"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/postgres"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/replicas"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/ports"
)

type Runtime struct {
	cfg      Config
	logger   *slog.Logger
	runner   *server.Runner
	inMemory bool

	service  *application.Service
	items    replica.Store
	outbox   outbox.Repository
	eventBus eventing.Bus
	dedup    bus.Deduplicator
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	rt := &Runtime{cfg: cfg, logger: logger, runner: server.NewRunner(logger, cfg.ShutdownTimeout)}
	fail := func(err error) (*Runtime, error) {
		rt.runner.Close()
		return nil, err
	}

	var carts ports.CartRepository
	if cfg.DatabaseURL != "" {
		db, err := platformpg.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return fail(err)
		}
		rt.runner.AddCloser("postgres", func() error { return platformpg.Close(db) })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fail(err)
		}
		rt.items = replica.NewGormStore(db, cfg.ReplicaMaxParked)
		rt.outbox = outbox.NewGormRepository(db)
		carts = postgres.NewCartRepository(db)
	} else {
		logger.WarnContext(ctx, "no database configured, using in-memory stores",
			"module", "bootstrap", "layer", "runtime", "operation", "new_runtime", "outcome", "fallback",
		)
		ob := outbox.NewMemoryRepository()
		rt.items = replica.NewMemoryStore(cfg.ReplicaMaxParked)
		rt.outbox = ob
		carts = memory.NewCartRepository(ob)
		rt.inMemory = true
	}

	rt.eventBus, err = eventing.Open(ctx, cfg.Common, logger)
	if err != nil {
		return fail(err)
	}
	rt.runner.AddCloser("bus", rt.eventBus.Close)

	dedup, closeDedup, err := eventing.Deduplicator(ctx, cfg.Common, logger)
	if err != nil {
		return fail(err)
	}
	rt.dedup = dedup
	rt.runner.AddCloser("redis", closeDedup)

	rt.service = application.NewService(application.Dependencies{
		Config: application.Config{ServiceName: cfg.ServiceID},
		Items:  replicas.NewItems(rt.items),
		Carts:  carts,
		Logger: logger,
	})
	return rt, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	r.runner.ServeHTTP(r.cfg.HTTPPort, httpadapter.NewRouter(httpadapter.NewHandler(r.service), r.logger))
	if err := r.runner.ServeGRPCHealth(r.cfg.GRPCPort); err != nil {
		r.runner.Close()
		return err
	}
	if r.inMemory {
		if err := r.addWorkers(); err != nil {
			r.runner.Close()
			return err
		}
	}
	return r.runner.Run(ctx)
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	if err := r.addWorkers(); err != nil {
		r.runner.Close()
		return err
	}
	return r.runner.Run(ctx)
}

func (r *Runtime) addWorkers() error {
	applier := eventadapter.NewItemApplier(r.items, r.service, r.logger)
	consumers, err := eventing.SubscribeAll(r.eventBus,
		eventadapter.Subscriptions(r.cfg.ServiceID, applier),
		eventing.ConsumerOptions(r.cfg.Common, r.dedup, r.logger)...,
	)
	if err != nil {
		return err
	}
	for _, c := range consumers {
		r.runner.AddWorker("consumer:"+c.Topic(), c)
		r.runner.AddReadinessCheck("consumer:"+c.Topic(), c.Ready)
	}
	r.runner.AddWorker("outbox", outbox.NewWorker(r.logger, r.outbox, r.eventBus, outbox.WorkerConfig{
		Interval:     eventing.OutboxInterval(r.cfg.Common),
		BatchSize:    r.cfg.OutboxBatchSize,
		MaxRetries:   r.cfg.OutboxMaxRetries,
		RetryBackoff: bus.Backoff{
			Initial: eventing.OutboxInterval(r.cfg.Common),
			Max:     r.cfg.OutboxMaxBackoff,
		},
	}))
	r.runner.AddWorker("gap-monitor", replica.NewGapMonitor(r.items, r.logger, r.cfg.GapMonitorInterval, r.cfg.GapMaxAge))
	return nil
}
