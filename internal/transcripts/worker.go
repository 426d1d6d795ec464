package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agency_calls_backend/internal/events"
	"agency_calls_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize      = 25
	defaultWorkers        = 4
	defaultLookupTimeout  = 15 * time.Second
	defaultExtractTimeout = 45 * time.Second
	sideEffectTimeout     = 10 * time.Second

	msgNoMatch = "no matching transcript"
)

// WorkerConfig tunes one sweep.
type WorkerConfig struct {
	BatchSize         int
	Workers           int
	LookupTimeout     time.Duration
	ExtractionTimeout time.Duration
	MatchWindow       time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize < 1 {
		c.BatchSize = defaultBatchSize
	}
	if c.Workers < 1 {
		c.Workers = defaultWorkers
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = defaultLookupTimeout
	}
	if c.ExtractionTimeout <= 0 {
		c.ExtractionTimeout = defaultExtractTimeout
	}
	if c.MatchWindow <= 0 {
		c.MatchWindow = defaultMatchWindow
	}
	return c
}

// lease is how long a claimed job stays invisible to other sweeps. It
// covers the worst case of one lookup plus one extraction.
func (c WorkerConfig) lease() time.Duration {
	return c.LookupTimeout + c.ExtractionTimeout + time.Minute
}

// BatchResult summarizes one sweep. Skipped counts jobs another pass
// finished first; Errored counts jobs whose outcome could not be saved and
// that will be picked up again once their lease expires.
type BatchResult struct {
	Claimed     int
	Completed   int
	Rescheduled int
	Failed      int
	Skipped     int
	Errored     int
}

// Worker runs transcript retrieval sweeps.
type Worker struct {
	jobs      JobRepository
	store     Store
	extractor Extractor
	eventBus  events.Bus
	archiver  Archiver
	writeback WritebackQueue
	schedule  Schedule
	cfg       WorkerConfig
	log       *logger.Logger
	now       func() time.Time
}

// NewWorker creates a retrieval worker. The archive and CRM writeback
// collaborators are optional.
func NewWorker(jobs JobRepository, store Store, extractor Extractor, eventBus events.Bus, schedule Schedule, cfg WorkerConfig, log *logger.Logger) *Worker {
	if extractor == nil {
		extractor = FallbackExtractor{}
	}
	return &Worker{
		jobs:      jobs,
		store:     store,
		extractor: extractor,
		eventBus:  eventBus,
		schedule:  schedule,
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetArchiver attaches the transcript archive.
func (w *Worker) SetArchiver(archiver Archiver) {
	w.archiver = archiver
}

// SetWritebackQueue attaches the CRM writeback queue.
func (w *Worker) SetWritebackQueue(queue WritebackQueue) {
	w.writeback = queue
}

type jobOutcome int

const (
	outcomeCompleted jobOutcome = iota
	outcomeRescheduled
	outcomeFailed
	outcomeSkipped
)

// RunBatch claims due jobs and processes them concurrently. Only a failed
// claim is returned as an error; per-job problems are counted and logged.
func (w *Worker) RunBatch(ctx context.Context) (BatchResult, error) {
	jobs, err := w.jobs.ClaimDue(ctx, w.now(), w.cfg.BatchSize, w.cfg.lease())
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Workers)

	for _, job := range jobs {
		g.Go(func() error {
			outcome, err := w.process(gctx, job)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errored++
				w.log.DatabaseError("transcript_job", err)
				return nil
			}
			switch outcome {
			case outcomeCompleted:
				result.Completed++
			case outcomeRescheduled:
				result.Rescheduled++
			case outcomeFailed:
				result.Failed++
			case outcomeSkipped:
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	w.log.Info("transcript sweep finished",
		"claimed", result.Claimed,
		"completed", result.Completed,
		"rescheduled", result.Rescheduled,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"errored", result.Errored,
	)
	return result, nil
}

func (w *Worker) process(ctx context.Context, job Job) (jobOutcome, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, w.cfg.LookupTimeout)
	transcript, err := w.store.Find(lookupCtx, Query{
		CallerNumber:   job.CallerNumber,
		AgentExtension: job.AgentExtension,
		StartedAt:      job.CallStartedAt,
		EndedAt:        job.CallEndedAt,
		Window:         w.cfg.MatchWindow,
	})
	cancel()
	if err != nil {
		return w.miss(ctx, job, err)
	}
	return w.hit(ctx, job, transcript)
}

func (w *Worker) hit(ctx context.Context, job Job, transcript Transcript) (jobOutcome, error) {
	extractCtx, cancel := context.WithTimeout(ctx, w.cfg.ExtractionTimeout)
	extraction := w.extractor.Extract(extractCtx, transcript)
	cancel()
	// The store's own direction wins; the model only fills a gap.
	if d := directionOf(transcript.Direction); d != "" {
		extraction.Direction = d
	}

	payload, err := json.Marshal(map[string]any{
		"transcriptId": transcript.ExternalID,
		"extraction":   extraction,
	})
	if err != nil {
		return 0, err
	}

	attempt := job.Attempts + 1
	ok, err := w.jobs.Complete(ctx, job, Completion{
		Transcript: transcript,
		Extraction: extraction,
		Payload:    payload,
		FinishedAt: w.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if !ok {
		return outcomeSkipped, nil
	}
	w.log.JobOutcome(job.ID.String(), attempt, "completed", nil)

	w.publish(ctx, events.TranscriptReady{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  job.TenantID,
		CallID:    job.CallID,
		JobID:     job.ID,
		Summary:   extraction.Summary,
		Attempts:  attempt,
	})
	w.afterCompletion(ctx, job, transcript)
	return outcomeCompleted, nil
}

// afterCompletion runs the archive and CRM writeback. Neither can undo a
// completed job.
func (w *Worker) afterCompletion(ctx context.Context, job Job, transcript Transcript) {
	if w.archiver != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		if err := w.archiver.ArchiveTranscript(actx, job.TenantID, job.CallID, transcript.Text); err != nil {
			w.log.Warn("transcript archive failed", "call_id", job.CallID, "error", err)
		}
		cancel()
	}
	if w.writeback != nil {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		if err := w.writeback.EnqueueCallWriteback(wctx, job.TenantID, job.CallID); err != nil {
			w.log.Warn("crm writeback enqueue failed", "call_id", job.CallID, "error", err)
		}
		cancel()
	}
}

// miss handles both "not there yet" and lookup errors the same way.
func (w *Worker) miss(ctx context.Context, job Job, cause error) (jobOutcome, error) {
	attempts := job.Attempts + 1
	reason := msgNoMatch
	if !errors.Is(cause, ErrNotReady) {
		reason = cause.Error()
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = w.schedule.MaxAttempts()
	}

	if attempts < maxAttempts {
		next := w.schedule.NextAttemptAt(w.now(), attempts)
		ok, err := w.jobs.Reschedule(ctx, job.ID, attempts, next, reason)
		if err != nil {
			return 0, fmt.Errorf("reschedule job %s: %w", job.ID, err)
		}
		if !ok {
			return outcomeSkipped, nil
		}
		w.log.JobOutcome(job.ID.String(), attempts, "rescheduled", cause)
		return outcomeRescheduled, nil
	}

	ok, err := w.jobs.Fail(ctx, job, attempts, reason, w.now())
	if err != nil {
		return 0, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if !ok {
		return outcomeSkipped, nil
	}
	w.log.JobOutcome(job.ID.String(), attempts, "failed", cause)

	w.publish(ctx, events.TranscriptFailed{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  job.TenantID,
		CallID:    job.CallID,
		JobID:     job.ID,
		Attempts:  attempts,
		LastError: reason,
	})
	return outcomeFailed, nil
}

func (w *Worker) publish(ctx context.Context, event events.Event) {
	if w.eventBus == nil {
		return
	}
	w.eventBus.Publish(ctx, event)
}

func directionOf(raw string) string {
	switch d := strings.ToLower(strings.TrimSpace(raw)); d {
	case "inbound", "outbound":
		return d
	default:
		return ""
	}
}
