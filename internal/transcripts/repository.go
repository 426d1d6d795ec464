package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the pgx implementation of JobRepository. Completion and
// terminal failure also write the call and its review artifact in the same
// transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const jobColumns = `id, tenant_id, call_id, caller_number, agent_extension, call_started_at,
	call_ended_at, attempts, max_attempts, next_attempt_at, last_error`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.TenantID, &j.CallID, &j.CallerNumber, &j.AgentExtension, &j.CallStartedAt,
		&j.CallEndedAt, &j.Attempts, &j.MaxAttempts, &j.NextAttemptAt, &j.LastError)
	return j, err
}

// ClaimDue picks due pending jobs oldest first and pushes their
// next_attempt_at forward by lease so an overlapping sweep skips them.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	if limit < 1 {
		limit = 25
	}

	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM transcript_jobs
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE transcript_jobs j
		SET next_attempt_at = $3, updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.tenant_id, j.call_id, j.caller_number, j.agent_extension, j.call_started_at,
			j.call_ended_at, j.attempts, j.max_attempts, j.next_attempt_at, j.last_error
	`, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim transcript jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Complete marks the job done, stores the transcript on the call and
// upserts the review artifact.
func (r *Repository) Complete(ctx context.Context, job Job, c Completion) (bool, error) {
	var done bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE transcript_jobs
			SET status = 'completed', attempts = attempts + 1, last_error = NULL,
				completed_at = $2, updated_at = now()
			WHERE id = $1 AND status = 'pending'
		`, job.ID, c.FinishedAt)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		extraction, err := json.Marshal(c.Extraction)
		if err != nil {
			return err
		}
		var direction *string
		if c.Extraction.Direction != "" {
			direction = &c.Extraction.Direction
		}
		if _, err := tx.Exec(ctx, `
			UPDATE call_sessions
			SET transcript = $3, summary = $4, extraction = $5,
				confirmed_direction = COALESCE($6, confirmed_direction), updated_at = now()
			WHERE id = $1 AND tenant_id = $2
		`, job.CallID, job.TenantID, c.Transcript.Text, c.Extraction.Summary, extraction, direction); err != nil {
			return fmt.Errorf("store transcript on call: %w", err)
		}

		if err := upsertArtifact(ctx, tx, job, ArtifactPendingReview, nil, c.Extraction.Summary, c.Payload); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// Reschedule records a miss that still has attempts left.
func (r *Repository) Reschedule(ctx context.Context, jobID uuid.UUID, attempts int, next time.Time, lastError string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transcript_jobs
		SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND $2 < max_attempts
	`, jobID, attempts, next, lastError)
	if err != nil {
		return false, fmt.Errorf("reschedule job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Fail marks the job terminally failed and flags the call for manual review.
func (r *Repository) Fail(ctx context.Context, job Job, attempts int, lastError string, at time.Time) (bool, error) {
	var done bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE transcript_jobs
			SET status = 'failed', attempts = $2, last_error = $3, failed_at = $4, updated_at = now()
			WHERE id = $1 AND status = 'pending'
		`, job.ID, attempts, lastError, at)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		reason := fmt.Sprintf("transcript not found after %d attempts: %s", attempts, lastError)
		payload, err := json.Marshal(map[string]any{
			"jobId":          job.ID,
			"callerNumber":   job.CallerNumber,
			"agentExtension": job.AgentExtension,
			"callStartedAt":  job.CallStartedAt,
			"callEndedAt":    job.CallEndedAt,
			"attempts":       attempts,
		})
		if err != nil {
			return err
		}
		if err := upsertArtifact(ctx, tx, job, ArtifactNeedsManualReview, &reason, "", payload); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// upsertArtifact never moves an artifact a reviewer has already picked up.
func upsertArtifact(ctx context.Context, tx pgx.Tx, job Job, status string, reason *string, summary string, payload json.RawMessage) error {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO call_review_artifacts (tenant_id, call_id, status, reason, summary, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id) DO UPDATE
		SET status = EXCLUDED.status, reason = EXCLUDED.reason, summary = EXCLUDED.summary,
			payload = EXCLUDED.payload, updated_at = now()
		WHERE call_review_artifacts.status IN ('pending_review', 'needs_manual_review')
	`, job.TenantID, job.CallID, status, reason, summary, payload)
	if err != nil {
		return fmt.Errorf("upsert review artifact: %w", err)
	}
	return nil
}
