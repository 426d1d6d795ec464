package transcripts

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agency_calls_backend/internal/events"
	"agency_calls_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeJob struct {
	job      Job
	status   JobStatus
	artifact string
	reason   string
	written  Completion
}

type fakeJobs struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*fakeJob
	claims int
}

func newFakeJobs(jobs ...Job) *fakeJobs {
	f := &fakeJobs{jobs: map[uuid.UUID]*fakeJob{}}
	for _, j := range jobs {
		f.jobs[j.ID] = &fakeJob{job: j, status: JobPending}
	}
	return f
}

func (f *fakeJobs) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Job
	for _, fj := range f.jobs {
		if len(out) == limit {
			break
		}
		if fj.status != JobPending || fj.job.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, fj.job)
		fj.job.NextAttemptAt = now.Add(lease)
		f.claims++
	}
	return out, nil
}

func (f *fakeJobs) Complete(_ context.Context, job Job, c Completion) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fj := f.jobs[job.ID]
	if fj.status != JobPending {
		return false, nil
	}
	fj.status = JobCompleted
	fj.job.Attempts++
	fj.artifact = ArtifactPendingReview
	fj.written = c
	return true, nil
}

func (f *fakeJobs) Reschedule(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fj := f.jobs[id]
	if fj.status != JobPending || attempts >= fj.job.MaxAttempts {
		return false, nil
	}
	fj.job.Attempts = attempts
	fj.job.NextAttemptAt = next
	fj.job.LastError = &lastError
	return true, nil
}

func (f *fakeJobs) Fail(_ context.Context, job Job, attempts int, lastError string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fj := f.jobs[job.ID]
	if fj.status != JobPending {
		return false, nil
	}
	fj.status = JobFailed
	fj.job.Attempts = attempts
	fj.artifact = ArtifactNeedsManualReview
	fj.reason = lastError
	return true, nil
}

func (f *fakeJobs) get(id uuid.UUID) fakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

type scriptedStore struct {
	mu      sync.Mutex
	lookups int
	results map[string]error
	found   Transcript
}

func (s *scriptedStore) Find(_ context.Context, q Query) (Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if err, ok := s.results[q.CallerNumber]; ok {
		return Transcript{}, err
	}
	return s.found, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}

type recordingSideEffects struct {
	mu        sync.Mutex
	archived  int
	writeback int
	err       error
}

func (r *recordingSideEffects) ArchiveTranscript(context.Context, uuid.UUID, uuid.UUID, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived++
	return r.err
}

func (r *recordingSideEffects) EnqueueCallWriteback(context.Context, uuid.UUID, uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeback++
	return r.err
}

func newJob(caller string, ended time.Time) Job {
	schedule := DefaultSchedule()
	return Job{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		CallID:         uuid.New(),
		CallerNumber:   caller,
		AgentExtension: "101",
		CallStartedAt:  ended.Add(-5 * time.Minute),
		CallEndedAt:    ended,
		MaxAttempts:    schedule.MaxAttempts(),
		NextAttemptAt:  schedule.FirstAttemptAt(ended),
	}
}

func TestWorkerKeepsMissingUntilTerminalFailure(t *testing.T) {
	ended := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	job := newJob("+12055550100", ended)
	jobs := newFakeJobs(job)
	store := &scriptedStore{results: map[string]error{"+12055550100": ErrNotReady}}
	bus := &recordingBus{}

	w := NewWorker(jobs, store, nil, bus, DefaultSchedule(), WorkerConfig{}, logger.Discard())

	want := []time.Duration{30, 60, 60, 120, 120, 180, 180, 300, 300, 600}
	prev := ended
	for i, delay := range want {
		current := jobs.get(job.ID).job.NextAttemptAt
		if got := current.Sub(prev); got != delay*time.Second {
			t.Fatalf("delta before attempt %d: got %v want %v", i+1, got, delay*time.Second)
		}
		if jobs.get(job.ID).status != JobPending {
			t.Fatalf("job terminal before attempt %d", i+1)
		}

		now := current
		w.now = func() time.Time { return now }
		res, err := w.RunBatch(context.Background())
		if err != nil {
			t.Fatalf("run batch %d: %v", i+1, err)
		}
		if res.Claimed != 1 {
			t.Fatalf("attempt %d: claimed %d jobs", i+1, res.Claimed)
		}
		prev = now
	}

	final := jobs.get(job.ID)
	if final.status != JobFailed {
		t.Fatalf("expected failed after 10 misses, got %s", final.status)
	}
	if final.job.Attempts != 10 {
		t.Fatalf("expected 10 attempts, got %d", final.job.Attempts)
	}
	if final.artifact != ArtifactNeedsManualReview {
		t.Fatalf("expected manual review artifact, got %q", final.artifact)
	}
	if store.lookups != 10 {
		t.Fatalf("expected 10 lookups, got %d", store.lookups)
	}

	w.now = func() time.Time { return ended.Add(24 * time.Hour) }
	res, err := w.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run after failure: %v", err)
	}
	if res.Claimed != 0 || store.lookups != 10 {
		t.Fatalf("terminal job was picked again: %+v lookups=%d", res, store.lookups)
	}

	names := bus.names()
	if len(names) != 1 || names[0] != (events.TranscriptFailed{}).EventName() {
		t.Fatalf("expected a single failure event, got %v", names)
	}
}

func TestWorkerCompletesOnHit(t *testing.T) {
	ended := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	job := newJob("+12055550100", ended)
	jobs := newFakeJobs(job)
	store := &scriptedStore{found: Transcript{ExternalID: "t-1", Text: "hello", Direction: "outbound"}}
	bus := &recordingBus{}
	effects := &recordingSideEffects{err: errors.New("bucket offline")}

	w := NewWorker(jobs, store, nil, bus, DefaultSchedule(), WorkerConfig{}, logger.Discard())
	w.SetArchiver(effects)
	w.SetWritebackQueue(effects)
	w.now = func() time.Time { return job.NextAttemptAt }

	res, err := w.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if res.Completed != 1 {
		t.Fatalf("expected one completion, got %+v", res)
	}

	got := jobs.get(job.ID)
	if got.status != JobCompleted || got.artifact != ArtifactPendingReview {
		t.Fatalf("unexpected job state %+v", got)
	}
	if effects.archived != 1 || effects.writeback != 1 {
		t.Fatalf("side effects not attempted: archived=%d writeback=%d", effects.archived, effects.writeback)
	}
	if names := bus.names(); len(names) != 1 || names[0] != (events.TranscriptReady{}).EventName() {
		t.Fatalf("expected transcript ready event, got %v", names)
	}
}

type staticExtractor struct{ ex Extraction }

func (s staticExtractor) Extract(context.Context, Transcript) Extraction { return s.ex }

func TestWorkerPrefersStoreDirection(t *testing.T) {
	cases := []struct {
		name      string
		stored    string
		extracted string
		want      string
	}{
		{name: "store disagrees with model", stored: "outbound", extracted: "inbound", want: "outbound"},
		{name: "store casing is folded", stored: " Inbound", extracted: "outbound", want: "inbound"},
		{name: "model fills a missing direction", stored: "", extracted: "outbound", want: "outbound"},
		{name: "unknown store value falls back", stored: "internal", extracted: "inbound", want: "inbound"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ended := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
			job := newJob("+12055550100", ended)
			jobs := newFakeJobs(job)
			store := &scriptedStore{found: Transcript{ExternalID: "t-2", Text: "hello", Direction: tc.stored}}
			extractor := staticExtractor{ex: Extraction{Summary: "quote request", Direction: tc.extracted}}

			w := NewWorker(jobs, store, extractor, nil, DefaultSchedule(), WorkerConfig{}, logger.Discard())
			w.now = func() time.Time { return job.NextAttemptAt }

			if _, err := w.RunBatch(context.Background()); err != nil {
				t.Fatalf("run batch: %v", err)
			}
			got := jobs.get(job.ID).written.Extraction.Direction
			if got != tc.want {
				t.Fatalf("confirmed direction: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestWorkerLogsOneSummaryPerBatch(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	jobs := newFakeJobs(newJob("+12055550100", now.Add(-time.Hour)))
	store := &scriptedStore{found: Transcript{ExternalID: "t-3", Text: "hi"}}

	var buf bytes.Buffer
	w := NewWorker(jobs, store, nil, nil, DefaultSchedule(), WorkerConfig{}, logger.NewWithWriter("production", &buf))
	w.now = func() time.Time { return now }

	if _, err := w.RunBatch(context.Background()); err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if n := strings.Count(buf.String(), "transcript sweep finished"); n != 1 {
		t.Fatalf("expected one sweep summary, got %d", n)
	}

	buf.Reset()
	if _, err := w.RunBatch(context.Background()); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if strings.Contains(buf.String(), "transcript sweep finished") {
		t.Fatalf("empty batch logged a summary: %s", buf.String())
	}
}

func TestWorkerIsolatesJobsInBatch(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	hit := newJob("+12055550100", now.Add(-time.Hour))
	down := newJob("+12055550199", now.Add(-time.Hour))
	missing := newJob("+12055550142", now.Add(-time.Hour))
	jobs := newFakeJobs(hit, down, missing)
	store := &scriptedStore{
		results: map[string]error{
			"+12055550199": errors.New("dial tcp: connection refused"),
			"+12055550142": ErrNotReady,
		},
		found: Transcript{ExternalID: "t-9", Text: "hi"},
	}

	w := NewWorker(jobs, store, nil, nil, DefaultSchedule(), WorkerConfig{Workers: 2}, logger.Discard())
	w.now = func() time.Time { return now }

	res, err := w.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if res.Claimed != 3 || res.Completed != 1 || res.Rescheduled != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	d := jobs.get(down.ID)
	if d.job.LastError == nil || *d.job.LastError != "dial tcp: connection refused" {
		t.Fatalf("lookup error not recorded: %+v", d.job.LastError)
	}
	if want := now.Add(60 * time.Second); !d.job.NextAttemptAt.Equal(want) {
		t.Fatalf("next attempt %v want %v", d.job.NextAttemptAt, want)
	}
	if m := jobs.get(missing.ID); m.job.LastError == nil || *m.job.LastError != msgNoMatch {
		t.Fatalf("miss reason not recorded: %+v", m.job.LastError)
	}
}

func TestFinishedJobCannotBeMutated(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	job := newJob("+12055550100", now.Add(-time.Hour))
	jobs := newFakeJobs(job)
	jobs.jobs[job.ID].status = JobCompleted

	store := &scriptedStore{results: map[string]error{"+12055550100": ErrNotReady}}
	w := NewWorker(jobs, store, nil, nil, DefaultSchedule(), WorkerConfig{}, logger.Discard())

	// Simulate a stale claim racing a finished job.
	outcome, err := w.process(context.Background(), job)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != outcomeSkipped {
		t.Fatalf("expected skipped, got %v", outcome)
	}
	if jobs.get(job.ID).status != JobCompleted {
		t.Fatalf("completed job changed state")
	}
}
