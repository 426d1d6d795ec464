// Package repository persists call sessions, the correlation buffer and
// transcript job creation in Postgres.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agency_calls_backend/internal/calls/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("call not found")
	ErrDuplicate = errors.New("call already exists")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithCallLock takes a transaction-scoped advisory lock on the hashed call
// key. The lock is released on commit or rollback.
func (r *Repository) WithCallLock(ctx context.Context, tenantID uuid.UUID, externalCallID string, fn func(tx CallTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(tenantID, externalCallID)); err != nil {
			return fmt.Errorf("acquire call lock: %w", err)
		}
		return fn(&callTx{tx: tx})
	})
}

func lockKey(tenantID uuid.UUID, externalCallID string) string {
	return "call:" + tenantID.String() + ":" + externalCallID
}

const sessionColumns = `
	id, tenant_id, external_call_id, caller_number, called_number, customer_id, agent_id,
	extension, status, declared_direction, confirmed_direction, predicted_reason,
	transcription_session_id, external_party_number, transcript, summary,
	created_at, answered_at, ended_at, duration_seconds, updated_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	var status, declared string
	var confirmed *string
	err := row.Scan(
		&s.ID, &s.TenantID, &s.ExternalCallID, &s.CallerNumber, &s.CalledNumber, &s.CustomerID, &s.AgentID,
		&s.Extension, &status, &declared, &confirmed, &s.PredictedReason,
		&s.TranscriptionSessionID, &s.ExternalPartyNumber, &s.Transcript, &s.Summary,
		&s.CreatedAt, &s.AnsweredAt, &s.EndedAt, &s.DurationSeconds, &s.UpdatedAt,
	)
	if err != nil {
		return domain.Session{}, err
	}
	s.Status = domain.Status(status)
	s.DeclaredDirection = domain.Direction(declared)
	if confirmed != nil {
		d := domain.Direction(*confirmed)
		s.ConfirmedDirection = &d
	}
	return s, nil
}

// GetByID returns a call scoped to the tenant.
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, ErrNotFound
	}
	return s, err
}

// ListRecent returns the newest calls first.
func (r *Repository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Session, 0, limit)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// PurgePendingCorrelations deletes buffer entries whose call never appeared.
func (r *Repository) PurgePendingCorrelations(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pending_correlation_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type callTx struct {
	tx pgx.Tx
}

func (t *callTx) FindSession(ctx context.Context, tenantID uuid.UUID, externalCallID string) (*domain.Session, error) {
	s, err := scanSession(t.tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE tenant_id = $1 AND external_call_id = $2
		FOR UPDATE
	`, tenantID, externalCallID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *callTx) CreateSession(ctx context.Context, s *domain.Session) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO call_sessions (
			tenant_id, external_call_id, caller_number, called_number, customer_id, agent_id,
			extension, status, declared_direction, predicted_reason,
			transcription_session_id, external_party_number, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (tenant_id, external_call_id) DO NOTHING
		RETURNING id, updated_at
	`,
		s.TenantID, s.ExternalCallID, s.CallerNumber, s.CalledNumber, s.CustomerID, s.AgentID,
		s.Extension, string(s.Status), string(s.DeclaredDirection), s.PredictedReason,
		s.TranscriptionSessionID, s.ExternalPartyNumber, s.CreatedAt,
	).Scan(&s.ID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	return err
}

func (t *callTx) MarkAnswered(ctx context.Context, id uuid.UUID, answeredAt time.Time, agentID *uuid.UUID, extension string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE call_sessions
		SET status = 'in_progress',
			answered_at = $2,
			agent_id = COALESCE(agent_id, $3),
			extension = CASE WHEN extension = '' THEN $4 ELSE extension END,
			updated_at = now()
		WHERE id = $1 AND status = 'ringing'
	`, id, answeredAt, agentID, extension)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *callTx) MarkCompleted(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE call_sessions
		SET status = 'completed', ended_at = $2, duration_seconds = $3, updated_at = now()
		WHERE id = $1 AND status IN ('ringing', 'in_progress')
	`, id, endedAt, durationSeconds)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *callTx) ReassertInProgress(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE call_sessions SET status = 'in_progress', updated_at = now()
		WHERE id = $1 AND status = 'in_progress'
	`, id)
	return err
}

func (t *callTx) AttachTranscriptionSession(ctx context.Context, id uuid.UUID, sessionID, externalPartyNumber string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE call_sessions
		SET transcription_session_id = $2,
			external_party_number = COALESCE(NULLIF($3, ''), external_party_number),
			updated_at = now()
		WHERE id = $1
	`, id, sessionID, externalPartyNumber)
	return err
}

func (t *callTx) TakePendingCorrelation(ctx context.Context, tenantID uuid.UUID, externalCallID string) (*domain.PendingCorrelation, error) {
	var p domain.PendingCorrelation
	err := t.tx.QueryRow(ctx, `
		DELETE FROM pending_correlation_events
		WHERE tenant_id = $1 AND external_call_id = $2
		RETURNING tenant_id, external_call_id, session_id, external_party_number, received_at
	`, tenantID, externalCallID).Scan(&p.TenantID, &p.ExternalCallID, &p.SessionID, &p.ExternalPartyNumber, &p.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *callTx) UpsertPendingCorrelation(ctx context.Context, p domain.PendingCorrelation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pending_correlation_events (tenant_id, external_call_id, session_id, external_party_number, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, external_call_id) DO UPDATE
		SET session_id = EXCLUDED.session_id,
			external_party_number = EXCLUDED.external_party_number,
			received_at = EXCLUDED.received_at
	`, p.TenantID, p.ExternalCallID, p.SessionID, p.ExternalPartyNumber, p.ReceivedAt)
	return err
}

func (t *callTx) EnqueueTranscriptJob(ctx context.Context, job NewTranscriptJob) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO transcript_jobs (
			tenant_id, call_id, caller_number, agent_extension, call_started_at, call_ended_at,
			status, attempts, max_attempts, next_attempt_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7, $8)
		ON CONFLICT (call_id) DO NOTHING
	`, job.TenantID, job.CallID, job.CallerNumber, job.AgentExtension, job.CallStartedAt, job.CallEndedAt,
		job.MaxAttempts, job.NextAttemptAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ Store = (*Repository)(nil)
