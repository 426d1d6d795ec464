package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agency_calls_backend/internal/adapters"
	"agency_calls_backend/internal/adapters/storage"
	callrepo "agency_calls_backend/internal/calls/repository"
	callservice "agency_calls_backend/internal/calls/service"
	"agency_calls_backend/internal/events"
	"agency_calls_backend/internal/reconciliation"
	"agency_calls_backend/internal/scheduler"
	"agency_calls_backend/internal/transcripts"
	"agency_calls_backend/internal/webhook"
	"agency_calls_backend/platform/config"
	"agency_calls_backend/platform/db"
	"agency_calls_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := connect(ctx, log, "database connection", func() (*pgxpool.Pool, error) {
		return db.NewPool(ctx, cfg)
	})
	defer pool.Close()

	storePool := pool
	if url := cfg.GetTranscriptStoreURL(); url != "" {
		storePool = connect(ctx, log, "transcript store connection", func() (*pgxpool.Pool, error) {
			return db.Connect(ctx, url, db.PoolOptions{MaxConns: int32(cfg.GetTranscriptWorkers() + 1)})
		})
		defer storePool.Close()
	} else {
		log.Warn("TRANSCRIPT_STORE_URL not configured; reading transcripts from the primary database")
	}

	eventBus := events.NewInMemoryBus(log)
	redisClient, err := redisClient(cfg.GetRedisURL())
	if err != nil {
		log.Error("invalid redis url", "error", err)
		panic("invalid redis url: " + err.Error())
	}
	defer func() { _ = redisClient.Close() }()
	events.NewRedisForwarder(redisClient).Subscribe(eventBus)

	// ========================================================================
	// Transcript retrieval
	// ========================================================================

	worker := transcripts.NewWorker(
		transcripts.NewRepository(pool),
		transcripts.NewSQLStore(storePool),
		newExtractor(ctx, cfg, log),
		eventBus,
		transcripts.DefaultSchedule(),
		transcripts.WorkerConfig{
			BatchSize:         cfg.GetTranscriptBatchSize(),
			Workers:           cfg.GetTranscriptWorkers(),
			LookupTimeout:     cfg.GetTranscriptLookupTimeout(),
			ExtractionTimeout: cfg.GetExtractionTimeout(),
			MatchWindow:       cfg.GetTranscriptMatchWindow(),
		},
		log,
	)
	worker.SetWritebackQueue(adapters.NewRetryQueueWriter(pool))
	if archiver := newArchiver(ctx, cfg, log); archiver != nil {
		worker.SetArchiver(archiver)
	}

	// ========================================================================
	// Reconciliation
	// ========================================================================

	reconRepo := reconciliation.NewRepository(pool)
	messenger := reconciliation.NewMessenger(cfg, cfg)
	if len(messenger) == 0 {
		log.Warn("no digest channel configured; reconciliation digests will fail to send")
	}
	auditor := reconciliation.NewAuditor(reconRepo, messenger, cfg.GetReconciliationSampleSize(), cfg.GetPendingCorrelationRetention(), log)
	deduper, err := reconciliation.NewRedisDeduper(cfg.GetRedisURL())
	if err != nil {
		log.Error("failed to initialize digest dedupe", "error", err)
		panic("failed to initialize digest dedupe: " + err.Error())
	}
	defer func() { _ = deduper.Close() }()
	auditor.SetDeduper(deduper)

	callService := callservice.New(callrepo.New(pool), adapters.NewDirectoryRepository(pool), eventBus, transcripts.DefaultSchedule(), log)

	handlers := scheduler.NewHandlers(worker, auditor, log)
	handlers.SetTenantSources(webhook.NewRepository(pool), reconRepo)
	handlers.SetPurger(callService, cfg.GetPendingCorrelationRetention())

	asynqWorker, err := scheduler.NewWorker(cfg, handlers, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	asynqWorker.Run(ctx)
	eventBus.Wait()
}

func newExtractor(ctx context.Context, cfg config.ExtractionConfig, log *logger.Logger) transcripts.Extractor {
	if !cfg.IsExtractionEnabled() {
		log.Warn("GEMINI_API_KEY not configured; transcripts get the fallback extraction")
		return transcripts.FallbackExtractor{}
	}
	extractor, err := transcripts.NewGeminiExtractor(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiModel(), log)
	if err != nil {
		log.Error("failed to initialize gemini extractor; using fallback", "error", err)
		return transcripts.FallbackExtractor{}
	}
	return extractor
}

func newArchiver(ctx context.Context, cfg config.MinIOConfig, log *logger.Logger) *adapters.TranscriptArchiver {
	if !cfg.IsMinIOEnabled() {
		log.Info("MINIO_ENDPOINT not configured; transcript archive disabled")
		return nil
	}
	store, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		return nil
	}
	bucket := cfg.GetMinioBucketCallTranscripts()
	if err := withRetry(ctx, log, "ensure transcript bucket", 5, 2*time.Second, func() error {
		return store.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		return nil
	}
	log.Info("transcript archive enabled", "bucket", bucket)
	return adapters.NewTranscriptArchiver(store, bucket)
}

func connect(ctx context.Context, log *logger.Logger, name string, open func() (*pgxpool.Pool, error)) *pgxpool.Pool {
	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, name, 5, 2*time.Second, func() error {
		p, err := open()
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to open "+name, "error", err)
		panic("failed to open " + name + ": " + err.Error())
	}
	return pool
}

func redisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("REDIS_URL is required for the scheduler")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
