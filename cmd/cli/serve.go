package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/iotaudit/internal/api"
	"github.com/anstrom/iotaudit/internal/notify"
	"github.com/anstrom/iotaudit/internal/scheduler"
)

// serveCmd runs the API, the engine and the scheduler until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the audit service",
	Long: `Start the scan engine together with the REST API, the WebSocket event
stream and any scheduled scans or sweeps from the configuration. The
service shuts down gracefully on SIGINT or SIGTERM, stopping running jobs.`,
	Example: `  iotaudit serve
  iotaudit serve --store bolt --port 9090
  IOTAUDIT_STORE_BACKEND=postgres iotaudit serve --config /etc/iotaudit.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "address the API listens on")
	serveCmd.Flags().Int("port", 0, "API port")
	bindFlag("api.listen_addr", serveCmd.Flags().Lookup("listen"))
	bindFlag("api.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := initLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub(logger, cfg.API.AllowedOrigins)
	a, err := newApp(ctx, cfg, logger, appOptions{sinks: []notify.Sink{hub}, publisher: hub})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Error("Shutdown incomplete", "error", err)
		}
		_ = hub.Close()
	}()

	if !a.runner.IsAvailable(ctx) {
		logger.Warn("nmap not found, only simulated scans will run", "binary", cfg.Engine.NmapPath)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(a.engine, a.discovery, logger)
		if err := sched.Load(cfg.Scheduler); err != nil {
			return fmt.Errorf("failed to load schedules: %w", err)
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Error("Scheduler did not stop cleanly", "error", err)
			}
		}()
	}

	if !cfg.API.Enabled {
		logger.Info("API disabled, running scheduler only")
		<-ctx.Done()
		return nil
	}

	deps := api.Deps{
		Config:    &cfg.API,
		Store:     a.store,
		Engine:    a.engine,
		Discovery: a.discovery,
		Hub:       hub,
		Tool:      a.runner,
		Metrics:   a.metrics,
		Logger:    logger,
	}
	if sched != nil {
		deps.Scheduler = sched
	}
	if a.database != nil {
		deps.Database = a.database
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "iotaudit %s listening on http://%s\n", version, server.GetAddress())
	fmt.Fprintf(os.Stderr, "Health check: http://%s/api/v1/health\n", server.GetAddress())
	return server.Start(ctx)
}
