package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/api"
	"github.com/blobgate/blobgate/internal/archive"
	"github.com/blobgate/blobgate/internal/audit"
	"github.com/blobgate/blobgate/internal/config"
	"github.com/blobgate/blobgate/internal/container"
	"github.com/blobgate/blobgate/internal/files"
	"github.com/blobgate/blobgate/internal/metrics"
	"github.com/blobgate/blobgate/internal/middleware"
	"github.com/blobgate/blobgate/internal/storage"
)

// Version is reported by the health endpoint; set at build time
var Version = "dev"

// Server represents the blobgate server
type Server struct {
	config         *config.Config
	httpServer     *http.Server
	services       []*api.Service
	stores         []storage.Store
	metricsManager metrics.Manager
	systemMetrics  *metrics.SystemMetricsTracker
	auditManager   *audit.Manager
	rateLimits     *middleware.InMemoryRateLimitStore
	readOnly       atomic.Bool
	startTime      time.Time
}

// New creates a server with one backend, container manager and engine per
// configured service
func New(cfg *config.Config) (*Server, error) {
	systemMetrics := metrics.NewSystemMetrics()
	metricsManager := metrics.NewManager(cfg.Metrics, systemMetrics, routeName)

	s := &Server{
		config:         cfg,
		metricsManager: metricsManager,
		systemMetrics:  systemMetrics,
		startTime:      time.Now(),
	}
	s.readOnly.Store(cfg.ReadOnly)

	for _, svcCfg := range cfg.Services {
		svc, err := s.buildService(svcCfg)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to create service %q: %w", svcCfg.Name, err)
		}
		s.services = append(s.services, svc)
	}

	if cfg.Audit.Enable {
		auditStore, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logrus.StandardLogger())
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to create audit store: %w", err)
		}
		s.auditManager = audit.NewManager(auditStore, logrus.StandardLogger())
	}

	s.httpServer = &http.Server{
		Addr: cfg.Listen,
		// uploads and downloads stream through, so only headers are bounded
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpServer.Handler = s.setupRoutes()

	return s, nil
}

func (s *Server) buildService(svcCfg config.ServiceConfig) (*api.Service, error) {
	store, err := storage.NewBackend(svcCfg)
	if err != nil {
		return nil, err
	}
	s.stores = append(s.stores, store)

	if s.config.Metrics.Enable {
		store = storage.NewInstrumented(store, svcCfg.Name, s.metricsManager)
	}
	if svcCfg.Type == config.ServiceTypeLocal {
		s.metricsManager.WatchDisk(svcCfg.Name, svcCfg.Root)
	}

	containers := container.NewManager(store, container.Options{
		Service:    svcCfg.Name,
		AutoCreate: svcCfg.AutoCreateEnabled(),
		S3Naming:   svcCfg.Type == config.ServiceTypeS3,
	})
	engine := files.NewEngine(svcCfg.Name, store, containers)
	engine.SetBatchRecorder(s.metricsManager)

	logrus.WithFields(logrus.Fields{
		"service":     svcCfg.Name,
		"type":        svcCfg.Type,
		"auto_create": svcCfg.AutoCreateEnabled(),
	}).Info("Storage service ready")

	return &api.Service{
		Name:    svcCfg.Name,
		Type:    svcCfg.Type,
		Engine:  engine,
		Archive: archive.NewCodec(engine, s.config.TempDir),
	}, nil
}

// routeName labels request metrics with the matched route template
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logging())
	router.Use(middleware.CORS(s.config.CORSOrigins))
	if s.config.RateLimit.Enable {
		s.rateLimits = middleware.NewInMemoryRateLimitStore()
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			BurstSize:         s.config.RateLimit.Burst,
			SkipPaths:         []string{"/_system/health"},
			Store:             s.rateLimits,
		}))
	}
	router.Use(middleware.ReadOnly(s.readOnly.Load))
	if s.config.Metrics.Enable {
		router.Use(s.metricsManager.Middleware())
		router.Handle(s.config.Metrics.Path, s.metricsManager.GetMetricsHandler()).Methods("GET")
	}

	// preflight requests only need to reach the CORS middleware
	router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	apiHandler := api.NewHandler(s.services, api.Options{
		Audit:         s.auditManager,
		System:        s.systemMetrics,
		MaxUploadSize: s.config.MaxUploadSize,
		FetchTimeout:  s.config.FetchTimeout,
		TempDir:       s.config.TempDir,
		Version:       Version,
	})
	apiHandler.RegisterRoutes(router)

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router)
}

// Handler returns the fully wired HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetReadOnly switches read-only mode at runtime
func (s *Server) SetReadOnly(enabled bool) {
	s.readOnly.Store(enabled)
	logrus.WithField("read_only", enabled).Info("Read-only mode changed")
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":  s.config.Listen,
		"data_dir": s.config.DataDir,
		"services": len(s.services),
	}).Info("Starting blobgate server")

	if err := s.metricsManager.Start(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to start metrics updates")
	}

	if s.auditManager != nil && s.config.Audit.RetentionDays > 0 {
		s.auditManager.StartRetentionJob(ctx, s.config.Audit.RetentionDays)
	}

	if s.rateLimits != nil {
		go s.cleanupRateLimits(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.listen()
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		s.shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) listen() error {
	logrus.WithField("address", s.config.Listen).Info("Starting API server")

	if s.config.EnableTLS {
		return s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) cleanupRateLimits(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rateLimits.Cleanup()
		}
	}
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown API server")
	}

	if err := s.metricsManager.Stop(); err != nil {
		logrus.WithError(err).Debug("Metrics manager was not running")
	}

	if s.auditManager != nil {
		if err := s.auditManager.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close audit store")
		}
	}

	s.closeStores()

	logrus.WithField("uptime", time.Since(s.startTime).Round(time.Second)).Info("Server stopped")
	return nil
}

func (s *Server) closeStores() {
	for _, store := range s.stores {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close storage backend")
		}
	}
	s.stores = nil
}
