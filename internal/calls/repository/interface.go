package repository

import (
	"context"
	"time"

	"agency_calls_backend/internal/calls/domain"

	"github.com/google/uuid"
)

// NewTranscriptJob is the job row created when a call completes.
type NewTranscriptJob struct {
	TenantID       uuid.UUID
	CallID         uuid.UUID
	CallerNumber   string
	AgentExtension string
	CallStartedAt  time.Time
	CallEndedAt    time.Time
	MaxAttempts    int
	NextAttemptAt  time.Time
}

// CallTx is the set of mutations available while holding the per-call lock.
// Everything done through one CallTx commits or rolls back together.
type CallTx interface {
	// FindSession returns nil, nil when no session exists for the key.
	FindSession(ctx context.Context, tenantID uuid.UUID, externalCallID string) (*domain.Session, error)
	CreateSession(ctx context.Context, s *domain.Session) error
	// MarkAnswered moves a ringing session to in_progress. false means the
	// stored status was no longer ringing.
	MarkAnswered(ctx context.Context, id uuid.UUID, answeredAt time.Time, agentID *uuid.UUID, extension string) (bool, error)
	// MarkCompleted moves a ringing or in-progress session to completed.
	MarkCompleted(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (bool, error)
	// ReassertInProgress touches an in-progress session after a hold change.
	ReassertInProgress(ctx context.Context, id uuid.UUID) error
	AttachTranscriptionSession(ctx context.Context, id uuid.UUID, sessionID, externalPartyNumber string) error
	// TakePendingCorrelation deletes and returns the buffered entry, or nil.
	TakePendingCorrelation(ctx context.Context, tenantID uuid.UUID, externalCallID string) (*domain.PendingCorrelation, error)
	UpsertPendingCorrelation(ctx context.Context, p domain.PendingCorrelation) error
	// EnqueueTranscriptJob creates the call's single job. false means it already existed.
	EnqueueTranscriptJob(ctx context.Context, job NewTranscriptJob) (bool, error)
}

// Store is the persistence port of the calls service.
type Store interface {
	// WithCallLock runs fn in one transaction while holding an exclusive lock
	// on (tenantID, externalCallID). Calls for different keys run in parallel.
	WithCallLock(ctx context.Context, tenantID uuid.UUID, externalCallID string, fn func(tx CallTx) error) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Session, error)
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Session, error)
	// PurgePendingCorrelations deletes buffered entries received before cutoff.
	PurgePendingCorrelations(ctx context.Context, cutoff time.Time) (int64, error)
}
