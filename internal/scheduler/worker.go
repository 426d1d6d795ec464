package scheduler

import (
	"context"
	"fmt"
	"time"

	"agency_calls_backend/platform/config"
	"agency_calls_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const (
	auditMaxRetry = 3
	sweepTimeout  = 10 * time.Minute
	auditTimeout  = 30 * time.Minute
)

// WorkerConfig is what the worker process needs from configuration.
type WorkerConfig interface {
	config.SchedulerConfig
	config.ReconciliationConfig
	GetTranscriptSweepInterval() time.Duration
}

// Worker runs the asynq server and registers the periodic tasks.
type Worker struct {
	server   *asynq.Server
	periodic *asynq.Scheduler
	mux      *asynq.ServeMux
	log      *logger.Logger
}

func NewWorker(cfg WorkerConfig, handlers *Handlers, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := queueName(cfg)
	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 4
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	periodic := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	if err := registerPeriodic(periodic, cfg, queue); err != nil {
		return nil, err
	}

	mux := asynq.NewServeMux()
	handlers.register(mux)

	return &Worker{
		server:   server,
		periodic: periodic,
		mux:      mux,
		log:      log,
	}, nil
}

type periodicRegistrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

func registerPeriodic(s periodicRegistrar, cfg WorkerConfig, queue string) error {
	interval := cfg.GetTranscriptSweepInterval()
	if _, err := s.Register(fmt.Sprintf("@every %s", interval), NewTranscriptSweepTask(),
		asynq.Queue(queue),
		asynq.Unique(interval),
		asynq.MaxRetry(0),
		asynq.Timeout(sweepTimeout),
	); err != nil {
		return fmt.Errorf("register transcript sweep: %w", err)
	}

	audit, err := NewReconciliationAuditTask(AuditPayload{})
	if err != nil {
		return err
	}
	if _, err := s.Register(cfg.GetReconciliationCron(), audit,
		asynq.Queue(queue),
		asynq.Unique(time.Hour),
		asynq.MaxRetry(auditMaxRetry),
		asynq.Timeout(auditTimeout),
	); err != nil {
		return fmt.Errorf("register reconciliation audit: %w", err)
	}
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	if err := w.periodic.Start(); err != nil {
		w.log.Error("periodic scheduler failed to start", "error", err)
		return
	}

	go func() {
		<-ctx.Done()
		w.periodic.Shutdown()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
