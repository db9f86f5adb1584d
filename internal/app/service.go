package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"zonealert/internal/alerts"
	"zonealert/internal/api"
	"zonealert/internal/clock"
	"zonealert/internal/config"
	"zonealert/internal/engine"
	"zonealert/internal/ingest"
	"zonealert/internal/logging"
	"zonealert/internal/notify"
	"zonealert/internal/rules"
	"zonealert/internal/ws"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alert service.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	clock    clock.Clock

	store     alerts.Store
	manager   *Manager
	pool      *notify.Pool
	hub       *ws.Hub
	scheduler *cron.Cron
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
}

// NewService builds the service from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	metrics := NewMetrics(prometheus.DefaultRegisterer)
	hub := ws.New(logger)
	dispatcher := notify.NewDispatcher(cfg.Delivery, hub, clk, logger)
	alertManager := alerts.NewManager(store, clk, logger)
	pool := notify.NewPool(cfg.Delivery, dispatcher, alertManager, metrics.DeliveryOutcome, logger)

	ruleRepo := rules.NewRepository(cfg.Rules)
	buffer := NewSnapshotBuffer(time.Duration(cfg.Service.SnapshotTTLSec) * time.Second)
	manager := NewManager(ruleRepo, engine.New(), alertManager, pool, buffer, metrics, clk, logger)

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
		store:    store,
		manager:  manager,
		pool:     pool,
		hub:      hub,
	}

	service.buildHTTPServer(api.NewServer(alertManager, ruleRepo, logger))
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	return service, nil
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.pool.Start(runCtx, s.cfg.Delivery.Workers)
	go s.hub.Run(runCtx)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.scheduler = cron.New()
	spec := fmt.Sprintf("@every %ds", s.cfg.Service.EvaluateSec)
	if _, err := s.scheduler.AddFunc(spec, func() {
		s.manager.RunCycle(runCtx)
	}); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("schedule evaluation cycle: %w", err)
	}
	s.scheduler.Start()
	s.logger.Info("evaluation scheduled",
		"facility", s.cfg.Service.FacilityID, "interval_sec", s.cfg.Service.EvaluateSec)

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	grace := time.Duration(s.cfg.Service.ShutdownGraceSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}

	// Let in-flight deliveries finish inside the grace window, then stop.
	drained := make(chan struct{})
	go func() {
		s.pool.WaitIdle()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown grace expired with deliveries in flight")
	}
	s.pool.Shutdown()

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the mux with ingest, operator API, websocket, and
// operational endpoints.
// Params: operator API server.
// Returns: server stored on the service.
func (s *Service) buildHTTPServer(apiServer *api.Server) {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	mux.Handle(s.cfg.Ingest.HTTP.IngestPath, ingest.NewHTTPHandler(s.manager, s.cfg.Ingest.HTTP.MaxBodyBytes))
	mux.Handle(s.cfg.Ingest.HTTP.WSPath, s.hub)
	mux.Handle("/metrics", promhttp.Handler())
	apiServer.Register(mux)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.manager, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore creates the alert state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (alerts.Store, error) {
	if cfg.State.Backend == config.StateBackendNATS {
		return alerts.NewNATSStore(cfg.State.NATS)
	}
	return alerts.NewMemoryStore(), nil
}
