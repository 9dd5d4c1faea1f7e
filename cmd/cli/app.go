package cli

import (
	"context"
	"fmt"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/db"
	"github.com/anstrom/iotaudit/internal/discovery"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/metrics"
	"github.com/anstrom/iotaudit/internal/notify"
	"github.com/anstrom/iotaudit/internal/probe"
	"github.com/anstrom/iotaudit/internal/scanning"
	"github.com/anstrom/iotaudit/internal/store"
	"github.com/anstrom/iotaudit/internal/store/bolt"
)

// app holds the components every command builds from the configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     store.Store
	database  *db.DB
	runner    *probe.ExecRunner
	metrics   *metrics.PrometheusMetrics
	engine    *scanning.Engine
	discovery *discovery.Service
}

// appOptions lets commands add event consumers to the engine and the
// discovery service.
type appOptions struct {
	sinks     []notify.Sink
	publisher discovery.Publisher
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.GetGlobalMetrics(),
	}

	st, database, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.database = database

	a.runner = probe.NewExecRunner(cfg.Engine.NmapPath,
		probe.WithAvailabilityTTL(cfg.Engine.AvailabilityTTL),
		probe.WithMetrics(a.metrics),
		probe.WithLogger(logger))

	sinks := append([]notify.Sink{notify.NewLogSink(logger)}, opts.sinks...)
	a.engine = scanning.NewEngine(scanning.Options{
		Store:   st,
		Sink:    notify.Fanout(sinks),
		Runner:  a.runner,
		Config:  &cfg.Engine,
		Metrics: a.metrics,
		Logger:  logger,
	})

	discOpts := []discovery.Option{discovery.WithMetrics(a.metrics), discovery.WithLogger(logger)}
	if opts.publisher != nil {
		discOpts = append(discOpts, discovery.WithPublisher(opts.publisher))
	}
	a.discovery = discovery.NewService(a.runner, &cfg.Engine, cfg.Discovery, discOpts...)
	return a, nil
}

// openStore opens the configured backend. The Postgres connection is also
// returned so health checks can ping it; it is nil for other backends.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, *db.DB, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory, "":
		logger.Info("Using in-memory store")
		return store.NewMemory(), nil, nil
	case config.BackendBolt:
		st, err := bolt.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		logger.Info("Using bolt store", "path", cfg.Store.BoltPath)
		return st, nil, nil
	case config.BackendPostgres:
		database, err := db.ConnectAndMigrate(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL store",
			"host", cfg.Database.Host,
			"database", cfg.Database.Database)
		return db.NewStore(database), database, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// close stops the engine and releases the store.
func (a *app) close(ctx context.Context) error {
	err := a.engine.Shutdown(ctx)
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
