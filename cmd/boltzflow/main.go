// boltzflow is the HTTP control plane for long-running structure
// prediction jobs: it submits compounds to the remote Boltz-2 API,
// polls them to completion and lands result artifacts on disk.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boltzflow/internal/api"
	"boltzflow/internal/artifact"
	"boltzflow/internal/boltz"
	"boltzflow/internal/config"
	"boltzflow/internal/health"
	"boltzflow/internal/model"
	"boltzflow/internal/notify"
	"boltzflow/internal/observability"
	"boltzflow/internal/poller"
	"boltzflow/internal/service"
	"boltzflow/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create event notifier
	var notifier notify.Notifier
	if cfg.CallbackURL != "" {
		notifier = notify.NewWebhook(notify.Config{
			CallbackURL: cfg.CallbackURL,
			SigningKey:  cfg.CallbackSigningKey,
			BufferSize:  cfg.NotifyBufferSize,
			Workers:     cfg.NotifyWorkers,
			HTTPTimeout: cfg.NotifyHTTPTimeout,
		}, metrics)
		slog.Info("Webhook notifications enabled", "url", cfg.CallbackURL)
	} else {
		notifier = notify.NewNop()
	}

	// Load state snapshot
	state, err := store.Load(cfg.RootDir)
	if err != nil {
		return err
	}
	if state.APIKey == "" {
		// A mounted secret seeds the credential on first boot; the
		// persisted one wins afterwards.
		state.APIKey = cfg.BootstrapAPIKey()
	}
	st := store.New(cfg.RootDir, state)
	slog.Info("State loaded", "root", cfg.RootDir, "campaigns", len(state.Campaigns))

	// Interrupted extractions are useless without their archive.
	if err := store.CleanupScratch(cfg.RootDir); err != nil {
		slog.Warn("Failed to clean scratch area", "error", err)
	}

	// Remote client and artifact pipeline
	client := boltz.NewClient(cfg.BoltzBaseURL, slog.Default())
	pipeline := artifact.NewPipeline(client, st, notifier, metrics)

	// Poller for in-flight predictions
	p := poller.New(poller.Config{
		Interval:    cfg.PollInterval,
		Timeout:     cfg.PollTimeout,
		Concurrency: int64(cfg.PollConcurrency),
	}, st, client, pipeline, notifier, metrics)

	pollCtx, pollCancel := context.WithCancel(ctx)
	defer pollCancel()
	go p.Run(pollCtx)

	// Re-fetch artifacts that never landed before the last shutdown.
	if incomplete := store.ScanIncompleteDownloads(cfg.RootDir, state); len(incomplete) > 0 {
		slog.Info("Recovering incomplete downloads", "count", len(incomplete))
		go p.RecoverDownloads(pollCtx, incomplete)
	}

	// Periodic dirty-state flusher
	flusher, err := store.StartFlusher(st, cfg.FlushInterval)
	if err != nil {
		return err
	}

	// Service, health checker and router
	svc := service.New(st, client, notifier, metrics, slog.Default(), service.Config{
		SubmitConcurrency: cfg.SubmitConcurrency,
	})
	healthChecker := health.NewChecker(client, func() string {
		var key string
		st.View(func(s *model.State) { key = s.APIKey })
		return key
	})

	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.LocalAPIKey,
	})

	if cfg.LocalAPIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no LOCAL_API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop the poller and the flush cycle, then write what's left
	pollCancel()
	flusher.Stop()
	st.FlushIfIdle()

	// Phase 4: Drain the notifier
	notifierCtx, notifierCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer notifierCancel()
	if err := notifier.Close(notifierCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}

	stats := notifier.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Remote predictions keep running server-side; the next boot's
	// poller picks them up from the persisted snapshot.
	slog.Info("Shutdown complete")
	return nil
}
