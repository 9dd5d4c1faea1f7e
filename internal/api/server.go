// Package api provides the HTTP and WebSocket surface of iotaudit: device
// registration, scan control, discovery, schedules, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/iotaudit/internal/api/handlers"
	"github.com/anstrom/iotaudit/internal/api/middleware"
	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/metrics"
	"github.com/anstrom/iotaudit/internal/store"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	limiterCleanupPeriod  = time.Minute
)

// Engine is what the API needs from the scan engine.
type Engine interface {
	apihandlers.ScanEngine
	apihandlers.StatsProvider
	apihandlers.ActiveScans
}

// Deps wires the server to the rest of the application. Store and Engine
// are required; routes for the other dependencies are only mounted when
// they are set.
type Deps struct {
	Config    *config.APIConfig
	Store     store.Store
	Engine    Engine
	Discovery apihandlers.Discoverer
	Scheduler apihandlers.ScheduleSource
	Hub       http.Handler
	Database  apihandlers.DatabasePinger
	Tool      apihandlers.ToolChecker
	Metrics   *metrics.PrometheusMetrics
	Logger    *logging.Logger
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     config.APIConfig
	limiter    *middleware.RateLimiter
	logger     *logging.Logger
	startTime  time.Time
}

// New creates a new API server instance.
func New(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Engine == nil {
		return nil, fmt.Errorf("api server needs a store and an engine")
	}
	cfg := config.Default().API
	if deps.Config != nil {
		cfg = *deps.Config
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		logger:    logger.WithComponent("api"),
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	s.setupMiddleware(deps.Metrics)
	s.setupRoutes(deps)

	s.handler = handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
	)(s.router)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s, nil
}

// setupMiddleware installs the middleware chain. Recovery runs innermost
// so panics are still logged and counted.
func (s *Server) setupMiddleware(pm *metrics.PrometheusMetrics) {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logging(s.logger))
	if pm != nil {
		s.router.Use(middleware.Metrics(pm))
	}
	if s.limiter != nil {
		s.router.Use(middleware.RateLimit(s.limiter, s.logger))
	}
	s.router.Use(middleware.ContentType())
	s.router.Use(middleware.Recovery(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(deps Deps) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	health := apihandlers.NewHealthHandler(deps.Database, deps.Tool, deps.Engine, s.logger)
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/version", health.Version).Methods(http.MethodGet)

	devices := apihandlers.NewDeviceHandler(deps.Store, deps.Engine, s.logger, s.config.MaxRequestSize)
	api.HandleFunc("/devices", devices.ListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices", devices.CreateDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}", devices.GetDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", devices.UpdateDevice).Methods(http.MethodPut)
	api.HandleFunc("/devices/{id}", devices.DeleteDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{id}/findings", devices.GetDeviceFindings).Methods(http.MethodGet)

	vulns := apihandlers.NewVulnerabilityHandler(deps.Store, s.logger)
	api.HandleFunc("/vulnerabilities", vulns.ListVulnerabilities).Methods(http.MethodGet)
	api.HandleFunc("/vulnerabilities/stats", vulns.VulnerabilityStats).Methods(http.MethodGet)
	api.HandleFunc("/vulnerabilities/{id}", vulns.GetVulnerability).Methods(http.MethodGet)

	scans := apihandlers.NewScanHandler(deps.Engine, deps.Store, s.logger, s.config.MaxRequestSize)
	api.HandleFunc("/scans", scans.ListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans", scans.StartScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/{id}", scans.GetScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/stop", scans.StopScan).Methods(http.MethodPost)
	api.HandleFunc("/scans/{id}/findings", scans.GetScanFindings).Methods(http.MethodGet)

	if deps.Discovery != nil {
		disc := apihandlers.NewDiscoveryHandler(deps.Discovery, s.logger, s.config.MaxRequestSize)
		api.HandleFunc("/discovery", disc.Discover).Methods(http.MethodPost)
	}
	if deps.Scheduler != nil {
		schedules := apihandlers.NewScheduleHandler(deps.Scheduler, s.logger)
		api.HandleFunc("/schedules", schedules.ListSchedules).Methods(http.MethodGet)
		api.HandleFunc("/schedules/{name}/run", schedules.RunSchedule).Methods(http.MethodPost)
	}
	if deps.Hub != nil {
		api.Handle("/ws", deps.Hub).Methods(http.MethodGet)
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if deps.Metrics != nil {
		gatherer = deps.Metrics.GetRegistry()
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// index lists the main endpoints.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "iotaudit API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":          "/api/v1/health",
			"devices":         "/api/v1/devices",
			"vulnerabilities": "/api/v1/vulnerabilities",
			"scans":           "/api/v1/scans",
			"events":          "/api/v1/ws",
			"metrics":         "/metrics",
		},
		"uptime": time.Since(s.startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
	}
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	if s.limiter != nil {
		go s.cleanupLimiter(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup()
		}
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}
