package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/letterdesk/submission-engine/internal/config"
	"github.com/letterdesk/submission-engine/internal/deliverer"
	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/handler"
	"github.com/letterdesk/submission-engine/internal/infra/postgresql"
	"github.com/letterdesk/submission-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/letterdesk/submission-engine/internal/infra/redis"
	"github.com/letterdesk/submission-engine/internal/notifier"
	"github.com/letterdesk/submission-engine/internal/notify"
	"github.com/letterdesk/submission-engine/internal/observability"
	"github.com/letterdesk/submission-engine/internal/repository"
	"github.com/letterdesk/submission-engine/internal/service"
	"github.com/letterdesk/submission-engine/internal/transport"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("submission-engine terminated", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	broker, err := notifier.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	mailNotifier, err := notifier.NewAMQPNotifier(broker)
	if err != nil {
		return fmt.Errorf("mail notifier init failed: %w", err)
	}

	letters, err := deliverer.NewHTTPLetterSource(cfg.LetterStoreURL)
	if err != nil {
		return fmt.Errorf("letter store client init failed: %w", err)
	}
	recipients, err := deliverer.NewHTTPRecipientDirectory(cfg.DirectoryURL)
	if err != nil {
		return fmt.Errorf("recipient directory client init failed: %w", err)
	}

	emailDeliverer, err := deliverer.NewEmailDeliverer(mailNotifier)
	if err != nil {
		return fmt.Errorf("email deliverer init failed: %w", err)
	}

	dispatcher, err := deliverer.NewDispatcher(letters, recipients, map[domain.DeliveryMethod]deliverer.Deliverer{
		domain.MethodAPI:    deliverer.NewAPIDeliverer(),
		domain.MethodEmail:  emailDeliverer,
		domain.MethodManual: deliverer.NewManualDeliverer(),
	})
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}

	registry, err := notify.NewRedisSessionRegistry(rdb)
	if err != nil {
		return fmt.Errorf("session registry init failed: %w", err)
	}
	bridge := notify.NewBridge(registry, logger)

	metrics := observability.NewMetrics()
	sink := observability.NewTelemetrySink(logger, metrics)

	submissionRepo := repository.NewGormSubmissionRepo(db)
	queueRepo := repository.NewGormQueueRepo(db)

	submissionService, err := service.NewSubmissionService(submissionRepo, queueRepo, cfg.DefaultMaxRetries, logger)
	if err != nil {
		return fmt.Errorf("submission service init failed: %w", err)
	}

	confirmationService, err := service.NewConfirmationService(submissionRepo, bridge, logger)
	if err != nil {
		return fmt.Errorf("confirmation service init failed: %w", err)
	}
	confirmationService.SetMetrics(metrics)

	scheduler, err := service.NewQueueScheduler(submissionRepo, queueRepo, dispatcher, limiter, bridge, service.SchedulerConfig{
		Interval:        cfg.DispatchInterval(),
		BatchLimit:      cfg.DispatchBatchLimit,
		Concurrency:     cfg.WorkerConcurrency,
		DispatchTimeout: cfg.DispatchTimeout(),
		BaseRetryDelay:  cfg.BaseRetryDelay(),
		MaxRetryDelay:   cfg.MaxRetryDelay(),
	}, logger)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	scheduler.SetMetrics(metrics)

	monitor, err := service.NewMonitor(submissionRepo, queueRepo, sink, service.MonitorConfig{
		Interval:             cfg.MonitorInterval(),
		ConfirmationWindow:   cfg.ConfirmationWindow(),
		StallThreshold:       cfg.StallThreshold(),
		FailureRateThreshold: cfg.FailureRateThreshold,
		FailureRateWindow:    cfg.FailureRateWindow(),
		FailureRateMinSample: cfg.FailureRateMinSample,
		AutoRetryStale:       cfg.AutoRetryStale,
	}, logger)
	if err != nil {
		return fmt.Errorf("monitor init failed: %w", err)
	}
	monitor.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "submission-engine",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterSubmissionRoutes(app, submissionService); err != nil {
		return fmt.Errorf("submission routes init failed: %w", err)
	}
	if err := handler.RegisterConfirmationRoutes(app, confirmationService, cfg.WebhookSecret); err != nil {
		return fmt.Errorf("confirmation routes init failed: %w", err)
	}
	if err := handler.RegisterSchedulerRoutes(app, scheduler); err != nil {
		return fmt.Errorf("scheduler routes init failed: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("monitor start failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("submission-engine api started", zap.Int("port", cfg.APIPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop cleanly", zap.Error(err))
	}
	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Warn("monitor did not stop cleanly", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http server did not stop cleanly", zap.Error(err))
	}

	logger.Info("submission-engine stopped")
	return nil
}
