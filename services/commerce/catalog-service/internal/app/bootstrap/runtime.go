package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/viralforge/commerce-mesh/platform/bus"
	"github.com/viralforge/commerce-mesh/platform/eventing"
	"github.com/viralforge/commerce-mesh/platform/outbox"
	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/platform/server"
	httpadapter "github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/adapters/http"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/adapters/memory"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/adapters/postgres"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/ports"
)

// Runtime wires the catalog. It owns items and only publishes; it consumes nothing.
type Runtime struct {
	cfg      Config
	logger   *slog.Logger
	runner   *server.Runner
	inMemory bool

	service  *application.Service
	outbox   outbox.Repository
	eventBus eventing.Bus
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

	var items ports.ItemRepository
	if cfg.DatabaseURL != "" {
		db, err := platformpg.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return fail(err)
		}
		rt.runner.AddCloser("postgres", func() error { return platformpg.Close(db) })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fail(err)
		}
		items = postgres.NewItemRepository(db)
		rt.outbox = outbox.NewGormRepository(db)
	} else {
		logger.WarnContext(ctx, "no database configured, using in-memory stores",
			"module", "bootstrap", "layer", "runtime", "operation", "new_runtime", "outcome", "fallback",
		)
		ob := outbox.NewMemoryRepository()
		items = memory.NewItemRepository(ob)
		rt.outbox = ob
		rt.inMemory = true
	}

	rt.eventBus, err = eventing.Open(ctx, cfg.Common, logger)
	if err != nil {
		return fail(err)
	}
	rt.runner.AddCloser("bus", rt.eventBus.Close)

	rt.service = application.NewService(application.Dependencies{
		Config: application.Config{ServiceName: cfg.ServiceID},
		Items:  items,
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
		r.addWorkers()
	}
	return r.runner.Run(ctx)
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	r.addWorkers()
	return r.runner.Run(ctx)
}

func (r *Runtime) addWorkers() {
	r.runner.AddWorker("outbox", outbox.NewWorker(r.logger, r.outbox, r.eventBus, outbox.WorkerConfig{
		Interval:     eventing.OutboxInterval(r.cfg.Common),
		BatchSize:    r.cfg.OutboxBatchSize,
		MaxRetries:   r.cfg.OutboxMaxRetries,
		RetryBackoff: bus.Backoff{
			Initial: eventing.OutboxInterval(r.cfg.Common),
			Max:     r.cfg.OutboxMaxBackoff,
		},
	}))
}
