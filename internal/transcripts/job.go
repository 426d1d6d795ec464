package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle of a retrieval job. completed and failed are
// terminal.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Review artifact statuses written by the worker.
const (
	ArtifactPendingReview     = "pending_review"
	ArtifactNeedsManualReview = "needs_manual_review"
)

// ErrNotReady is returned by a Store when no transcript matches yet.
var ErrNotReady = errors.New("transcript not available yet")

// Job is one pending transcript lookup for a completed call.
type Job struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	CallID         uuid.UUID
	CallerNumber   string
	AgentExtension string
	CallStartedAt  time.Time
	CallEndedAt    time.Time
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  time.Time
	LastError      *string
}

// Query is the fuzzy lookup against the transcript store. The two systems
// share no key, so the match is on number, extension and time.
type Query struct {
	CallerNumber   string
	AgentExtension string
	StartedAt      time.Time
	EndedAt        time.Time
	Window         time.Duration
}

// Transcript is a transcript row picked from the store.
type Transcript struct {
	ExternalID     string
	Text           string
	Direction      string
	CallerNumber   string
	AgentExtension string
	StartedAt      time.Time
	EndedAt        time.Time
}

// Extraction is the structured result produced from a transcript.
type Extraction struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"actionItems"`
	Sentiment   string   `json:"sentiment"`
	IsHangup    bool     `json:"isHangup"`
	Direction   string   `json:"direction,omitempty"`
	CallReason  string   `json:"callReason,omitempty"`
	Fallback    bool     `json:"fallback"`
}

// Completion is everything written when a job hits.
type Completion struct {
	Transcript Transcript
	Extraction Extraction
	Payload    json.RawMessage
	FinishedAt time.Time
}

// Store finds the best transcript for a call. It returns ErrNotReady on a miss.
type Store interface {
	Find(ctx context.Context, q Query) (Transcript, error)
}

// Extractor turns transcript text into a structured result. Implementations
// must degrade to FallbackExtraction rather than fail.
type Extractor interface {
	Extract(ctx context.Context, t Transcript) Extraction
}

// JobRepository persists job progress. Every mutation is guarded on the job
// still being pending; false means another pass already finished it.
type JobRepository interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	Complete(ctx context.Context, job Job, c Completion) (bool, error)
	Reschedule(ctx context.Context, jobID uuid.UUID, attempts int, next time.Time, lastError string) (bool, error)
	Fail(ctx context.Context, job Job, attempts int, lastError string, at time.Time) (bool, error)
}

// Archiver stores a copy of a transcript outside the database.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, tenantID, callID uuid.UUID, text string) error
}

// WritebackQueue hands a finished call to the CRM writeback collaborator.
type WritebackQueue interface {
	EnqueueCallWriteback(ctx context.Context, tenantID, callID uuid.UUID) error
}
