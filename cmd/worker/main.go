package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dunamismax/badgeflow/internal/config"
	"github.com/dunamismax/badgeflow/internal/logging"
	"github.com/dunamismax/badgeflow/internal/store"
	"github.com/dunamismax/badgeflow/internal/telemetry"
	"github.com/dunamismax/badgeflow/internal/webhook"
	"github.com/dunamismax/badgeflow/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New("worker", cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("worker failed")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "badgeflow-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	leadStore, closeStore, err := newLeadStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var sender *webhook.Client
	if cfg.Leads.Endpoint != "" {
		sender = webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Leads.SigningSecret,
			Timeout:       cfg.Leads.Timeout,
			MaxAttempts:   cfg.Leads.MaxAttempts,
		})
	} else {
		logger.Warn("LEAD_ENDPOINT not set, leads are recorded but not delivered")
	}

	var srv *worker.Server
	if sender != nil {
		srv, err = worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Leads, sender, leadStore)
	} else {
		srv, err = worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Leads, nil, leadStore)
	}
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", cfg.Worker.MetricsAddr).Info("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"concurrency":     cfg.Worker.Concurrency,
		"max_active_jobs": cfg.Worker.MaxActiveJobs,
		"queue":           cfg.Queue.Name,
		"redis":           cfg.Queue.RedisAddr,
	}).Info("starting worker")

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	logger.Info("shutting down")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics shutdown failed")
	}
	return nil
}

func newLeadStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (store.LeadStore, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Warn("POSTGRES_DSN not set, leads are kept in memory")
		return store.NewMemoryLeadStore(), func() {}, nil
	}

	pg, err := store.NewPostgresLeadStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open lead store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("ensure lead schema: %w", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.WithError(err).Warn("lead store close failed")
		}
	}, nil
}
