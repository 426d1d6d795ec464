package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	orphanGrace  = 24 * time.Hour
	orphanWindow = 7 * 24 * time.Hour
	stuckAfter   = 8 * time.Hour
	failedWithin = 24 * time.Hour
)

// Repository runs the audit queries. Every query is read-only.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// sample runs a query whose rows are (total, example) where total comes from
// COUNT(*) OVER (), so one round trip yields the count and the examples.
func (r *Repository) sample(ctx context.Context, query string, args ...any) (Sample, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return Sample{}, err
	}
	type row struct {
		Total   int
		Example string
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return Sample{}, err
	}

	s := Sample{Examples: make([]string, 0, len(collected))}
	for _, c := range collected {
		s.Total = c.Total
		s.Examples = append(s.Examples, c.Example)
	}
	return s, nil
}

// OrphanedCalls are completed calls that ended more than a day ago, within
// the lookback window, and still have no review artifact.
func (r *Repository) OrphanedCalls(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error) {
	s, err := r.sample(ctx, `
		SELECT COUNT(*) OVER ()::int,
			format('call %s from %s ended %s', c.external_call_id, c.caller_number,
				to_char(c.ended_at AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI "UTC"'))
		FROM call_sessions c
		LEFT JOIN call_review_artifacts a ON a.call_id = c.id
		WHERE c.tenant_id = $1
		  AND c.status = 'completed'
		  AND c.ended_at < $2
		  AND c.ended_at >= $3
		  AND a.id IS NULL
		ORDER BY c.ended_at ASC
		LIMIT $4
	`, tenantID, now.Add(-orphanGrace), now.Add(-orphanGrace-orphanWindow), limit)
	if err != nil {
		return Sample{}, fmt.Errorf("orphaned calls: %w", err)
	}
	return s, nil
}

// StuckArtifacts are artifacts a reviewer or processor picked up and never
// moved on.
func (r *Repository) StuckArtifacts(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error) {
	s, err := r.sample(ctx, `
		SELECT COUNT(*) OVER ()::int,
			format('call %s artifact %s since %s', c.external_call_id, a.status,
				to_char(a.updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI "UTC"'))
		FROM call_review_artifacts a
		JOIN call_sessions c ON c.id = a.call_id
		WHERE a.tenant_id = $1
		  AND a.status IN ('in_review', 'processing')
		  AND a.updated_at < $2
		ORDER BY a.updated_at ASC
		LIMIT $3
	`, tenantID, now.Add(-stuckAfter), limit)
	if err != nil {
		return Sample{}, fmt.Errorf("stuck artifacts: %w", err)
	}
	return s, nil
}

func (r *Repository) FailedTranscriptJobs(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error) {
	s, err := r.sample(ctx, `
		SELECT COUNT(*) OVER ()::int,
			format('call %s after %s attempts: %s', c.external_call_id, j.attempts, COALESCE(j.last_error, 'unknown'))
		FROM transcript_jobs j
		JOIN call_sessions c ON c.id = j.call_id
		WHERE j.tenant_id = $1
		  AND j.status = 'failed'
		  AND j.failed_at >= $2
		ORDER BY j.failed_at DESC
		LIMIT $3
	`, tenantID, now.Add(-failedWithin), limit)
	if err != nil {
		return Sample{}, fmt.Errorf("failed transcript jobs: %w", err)
	}
	return s, nil
}

func (r *Repository) FailedRetryItems(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error) {
	s, err := r.sample(ctx, `
		SELECT COUNT(*) OVER ()::int,
			format('%s %s after %s attempts: %s', kind, reference, attempts, COALESCE(last_error, 'unknown'))
		FROM retry_queue
		WHERE tenant_id = $1
		  AND status = 'failed'
		  AND updated_at >= $2
		ORDER BY updated_at DESC
		LIMIT $3
	`, tenantID, now.Add(-failedWithin), limit)
	if err != nil {
		return Sample{}, fmt.Errorf("failed retry items: %w", err)
	}
	return s, nil
}

func (r *Repository) OrphanedCorrelations(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, limit int) (Sample, error) {
	s, err := r.sample(ctx, `
		SELECT COUNT(*) OVER ()::int,
			format('session %s for call %s received %s', session_id, external_call_id,
				to_char(received_at AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI "UTC"'))
		FROM pending_correlation_events
		WHERE tenant_id = $1 AND received_at < $2
		ORDER BY received_at ASC
		LIMIT $3
	`, tenantID, cutoff, limit)
	if err != nil {
		return Sample{}, fmt.Errorf("orphaned correlations: %w", err)
	}
	return s, nil
}

// ListTenants returns every tenant with call activity in the window.
func (r *Repository) ListTenants(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM call_sessions WHERE updated_at >= $1
		UNION
		SELECT DISTINCT tenant_id FROM pending_correlation_events
	`, since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

var _ Source = (*Repository)(nil)
