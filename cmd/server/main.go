package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"shopify-webhook-pipeline/internal/alerting"
	"shopify-webhook-pipeline/internal/config"
	"shopify-webhook-pipeline/internal/erp"
	"shopify-webhook-pipeline/internal/middleware"
	"shopify-webhook-pipeline/internal/orders"
	"shopify-webhook-pipeline/internal/queue"
	"shopify-webhook-pipeline/internal/status"
	"shopify-webhook-pipeline/internal/webhooks"
	"shopify-webhook-pipeline/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	// The signing secret is critical; the application must not start without it.
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration. Application cannot start.", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exited gracefully")
}

// app holds the wired pipeline.
type app struct {
	store   queue.Store
	pool    *worker.Pool
	reaper  *worker.Reaper
	handler http.Handler
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.IngestTimeout,
		WriteTimeout:      cfg.Server.IngestTimeout + 10*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		a.pool.Start(gctx)
		<-gctx.Done()
		// Stop the worker pool. This will block until in-flight jobs are recorded.
		a.pool.Stop()
		return nil
	})
	g.Go(func() error {
		return a.reaper.Run(gctx)
	})
	return g.Wait()
}

// build wires stores, sinks, handlers and routes from cfg.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	p := cfg.Pipeline
	storeOpts := queue.Options{Lease: p.Lease()}
	if cfg.Storage.DatabaseURL != "" {
		db, err := queue.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := queue.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.store = queue.NewPostgresStore(db, storeOpts, logger)
		logger.Info("Using Postgres job queue")
	} else {
		a.store = queue.NewMemoryStore(storeOpts)
		logger.Warn("DATABASE_URL not set, jobs are kept in memory and lost on restart")
	}
	a.closers = append(a.closers, a.store)

	idem, err := newIdempotencyStore(ctx, cfg.Storage, a)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg.Alerts, logger, a)
	if err != nil {
		return nil, err
	}

	dispatcher := worker.NewDispatcher(logger, p.HandlerTimeout)
	if cfg.ERP.Enabled() {
		client, err := erp.NewClient(context.Background(), erp.Config{
			BaseURL:      cfg.ERP.BaseURL,
			TokenURL:     cfg.ERP.TokenURL,
			ClientID:     cfg.ERP.ClientID,
			ClientSecret: cfg.ERP.ClientSecret,
		}, logger)
		if err != nil {
			return nil, err
		}
		orders.NewHandler(client, idem, logger).Register(dispatcher)
	} else {
		logger.Warn("ERP_BASE_URL not set, order topics will be acknowledged and skipped")
	}
	logger.Info("Handlers registered", "topics", dispatcher.Topics())

	scheduler := worker.NewScheduler(worker.SchedulerConfig{
		Store:       a.store,
		Backoff:     worker.Backoff{Initial: p.InitialBackoff, Max: p.MaxBackoff},
		MaxAttempts: p.MaxAttempts,
		Alerter:     notifier,
		Logger:      logger,
	})
	a.pool = worker.NewPool(worker.PoolConfig{
		Store:        a.store,
		Dispatcher:   dispatcher,
		Scheduler:    scheduler,
		Logger:       logger,
		Workers:      p.WorkerCount,
		PollInterval: p.PollInterval,
		Heartbeat:    p.Lease() / 3,
	})
	a.reaper = worker.NewReaper(worker.ReaperConfig{
		Store:     a.store,
		Scheduler: scheduler,
		Logger:    logger,
		Interval:  p.ReaperInterval,
		Retention: p.AuditRetention,
	})
	a.handler = newRouter(cfg.Server, logger, a.store, a.pool)

	ok = true
	return a, nil
}

func newIdempotencyStore(ctx context.Context, cfg config.StorageConfig, a *app) (worker.IdempotencyStore, error) {
	if cfg.RedisURL == "" {
		return worker.NewMemoryIdempotencyStore(10000, cfg.IdempotencyTTL), nil
	}
	client, err := worker.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client)
	return worker.NewRedisIdempotencyStore(client, "", cfg.IdempotencyTTL), nil
}

func newNotifier(cfg config.AlertsConfig, logger *slog.Logger, a *app) (*alerting.Notifier, error) {
	sinks := []alerting.Registration{{Name: "log", Sink: alerting.LogSink{Logger: logger}}}
	if cfg.SlackWebhookURL != "" {
		slack, err := alerting.NewSlackSink(alerting.SlackConfig{
			WebhookURL: cfg.SlackWebhookURL,
			Channel:    cfg.SlackChannel,
		})
		if err != nil {
			return nil, fmt.Errorf("slack sink: %w", err)
		}
		sinks = append(sinks, alerting.Registration{Name: "slack", Sink: slack})
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := alerting.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		a.closers = append(a.closers, kafka)
		sinks = append(sinks, alerting.Registration{Name: "kafka", Sink: kafka})
	}
	return alerting.NewNotifier(logger, sinks...), nil
}

func newRouter(cfg config.ServerConfig, logger *slog.Logger, store queue.Store, waker webhooks.Waker) http.Handler {
	webhookHandler := webhooks.NewHandler(logger, store, waker, cfg.IngestTimeout)
	statusHandler := status.NewHandler(logger, store)

	var limiter *middleware.RateLimiter
	if cfg.RateLimitPerMin > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitPerMin)
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	router.Route("/webhooks", func(r chi.Router) {
		r.Use(middleware.VerifySignature(logger, []byte(cfg.WebhookSecret), middleware.VerifyOptions{
			MaxBodyBytes: cfg.MaxBodyBytes,
			ReplayWindow: cfg.ReplayWindow,
		}))
		r.Use(middleware.RateLimit(logger, limiter))
		r.Post("/", webhookHandler.HandleWebhook)
	})
	statusHandler.Routes(router)
	return router
}
