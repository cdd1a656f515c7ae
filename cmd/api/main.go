package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/dunamismax/badgeflow/internal/api"
	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/config"
	"github.com/dunamismax/badgeflow/internal/export"
	"github.com/dunamismax/badgeflow/internal/flow"
	"github.com/dunamismax/badgeflow/internal/logging"
	"github.com/dunamismax/badgeflow/internal/pipeline"
	"github.com/dunamismax/badgeflow/internal/queue"
	"github.com/dunamismax/badgeflow/internal/ratelimit"
	"github.com/dunamismax/badgeflow/internal/storage"
	"github.com/dunamismax/badgeflow/internal/telemetry"
)

const sessionSweepInterval = time.Minute

func main() {
	cfg := config.Load()
	logger := logging.New("api", cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("api failed")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "badgeflow-api",
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

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	decoder, err := pipeline.NewDecoder()
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}

	table, err := export.ParseTable(cfg.Export.Resolutions)
	if err != nil {
		return fmt.Errorf("parse export resolutions: %w", err)
	}

	emitter, err := newEmitter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	renderer := badge.NewRenderer(badge.Options{QRContent: cfg.Badge.QRContent})
	exporter := export.New(renderer, emitter, export.Options{
		Table:  table,
		Prefix: cfg.Export.FilePrefix,
		Logger: logger,
	})

	deps := flow.Deps{
		Decoder:     decoder,
		Compositor:  pipeline.NewCompositor(decoder, 0),
		Renderer:    renderer,
		Exporter:    exporter,
		Logger:      logger,
		Group:       &singleflight.Group{},
		LeadTimeout: cfg.Leads.Timeout,
		PreviewSize: cfg.API.PreviewSize,
	}
	if cfg.Leads.Enqueue {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.WithError(err).Warn("queue client close failed")
			}
		}()
		deps.Leads = queueClient
	}

	limiter, closeLimiter := newRateLimiter(ctx, cfg, logger)
	defer closeLimiter()

	app := api.NewServer(api.Options{
		Logger:         logger,
		Deps:           deps,
		Resolutions:    table,
		SessionTTL:     cfg.API.SessionTTL,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		RateLimiter:    limiter,
	})
	go app.SweepSessions(ctx, sessionSweepInterval)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.API.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
	return nil
}

func newEmitter(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (pipeline.Emitter, error) {
	switch cfg.Export.Archive {
	case "", "none":
		return pipeline.DiscardEmitter{}, nil
	case "local":
		if err := os.MkdirAll(cfg.Export.LocalDir, 0o755); err != nil {
			return nil, fmt.Errorf("create export dir: %w", err)
		}
		logger.WithField("dir", cfg.Export.LocalDir).Info("archiving exports to disk")
		return pipeline.LocalFileEmitter{OutputDir: cfg.Export.LocalDir}, nil
	case "minio":
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure export bucket: %w", err)
		}
		logger.WithField("bucket", client.Bucket()).Info("archiving exports to object storage")
		return pipeline.NewObjectStoreEmitter(client, cfg.Export.Prefix, cfg.Export.LinkTTL), nil
	default:
		return nil, fmt.Errorf("unsupported export archive %q", cfg.Export.Archive)
	}
}

// newRateLimiter prefers the shared redis bucket and falls back to a
// per-process bucket when redis is unreachable. A non-positive limit
// disables limiting.
func newRateLimiter(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (api.RateLimiter, func()) {
	noop := func() {}
	if cfg.API.RateLimit <= 0 {
		return nil, noop
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err == nil {
		limiter, err := ratelimit.NewRedisTokenBucket(client, cfg.API.RateLimit, cfg.API.RateLimitWindow, "")
		if err == nil {
			return limiter, func() { _ = client.Close() }
		}
		logger.WithError(err).Warn("redis rate limiter unavailable")
	} else {
		logger.WithError(err).Warn("redis unreachable, rate limiting per process")
	}
	_ = client.Close()

	limiter, err := ratelimit.NewMemoryTokenBucket(cfg.API.RateLimit, cfg.API.RateLimitWindow)
	if err != nil {
		logger.WithError(err).Warn("rate limiting disabled")
		return nil, noop
	}
	return limiter, noop
}
