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

	"agency_calls_backend/internal/adapters"
	"agency_calls_backend/internal/calls"
	"agency_calls_backend/internal/calls/normalizer"
	"agency_calls_backend/internal/events"
	apphttp "agency_calls_backend/internal/http"
	"agency_calls_backend/internal/http/router"
	"agency_calls_backend/internal/notification"
	"agency_calls_backend/internal/notification/sse"
	"agency_calls_backend/internal/reconciliation"
	"agency_calls_backend/internal/scheduler"
	"agency_calls_backend/internal/webhook"
	"agency_calls_backend/platform/config"
	"agency_calls_backend/platform/db"
	"agency_calls_backend/platform/logger"
	"agency_calls_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	table, err := loadAliasTable(cfg)
	if err != nil {
		log.Error("failed to load normalizer aliases", "error", err)
		panic("failed to load normalizer aliases: " + err.Error())
	}

	// ========================================================================
	// Domain Modules
	// ========================================================================

	webhookModule := webhook.NewModule(pool, val)

	callsModule := calls.NewModule(pool, normalizer.New(table), adapters.NewDirectoryRepository(pool), eventBus, val, log)
	if capture := adapters.NewCaptureClient(cfg, log); capture != nil {
		callsModule.Service().SetCaptureController(capture)
		log.Info("audio capture control enabled")
	}
	callsModule.Service().SetReasonPredictor(adapters.NewCallHistoryReasonPredictor(pool))

	sseService := sse.New(log)
	defer sseService.Close()
	notificationModule := notification.New(sseService, log)
	notificationModule.RegisterHandlers(eventBus)

	modules := []apphttp.Module{webhookModule, callsModule, notificationModule}

	if cfg.GetRedisURL() != "" {
		if relayClient, err := newRedisClient(cfg.GetRedisURL()); err != nil {
			log.Warn("event relay disabled", "error", err)
		} else {
			defer func() { _ = relayClient.Close() }()
			go func() {
				if err := events.RelayFromRedis(ctx, relayClient, eventBus, log); err != nil {
					log.Warn("event relay stopped", "error", err)
				}
			}()
		}

		if auditClient, err := scheduler.NewClient(cfg); err != nil {
			log.Warn("manual reconciliation trigger disabled", "error", err)
		} else {
			defer func() { _ = auditClient.Close() }()
			modules = append(modules, reconciliation.NewModule(auditClient, log))
		}
	} else {
		log.Warn("REDIS_URL not configured; transcript notifications and manual audits disabled")
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:      cfg,
		Logger:      log,
		Health:      db.NewPoolAdapter(pool),
		EventBus:    eventBus,
		WebhookAuth: webhookModule.AuthMiddleware(),
		Modules:     modules,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		sseService.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func loadAliasTable(cfg config.WebhookConfig) (*normalizer.Table, error) {
	path := cfg.GetNormalizerAliasesFile()
	if path == "" {
		return normalizer.DefaultTable(), nil
	}
	return normalizer.LoadTable(path)
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
