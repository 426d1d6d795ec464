package transcripts_test

import (
	"context"
	"testing"
	"time"

	"agency_calls_backend/internal/transcripts"
	"agency_calls_backend/platform/db/dbtest"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJob(t *testing.T, pool *pgxpool.Pool, tenant uuid.UUID, due time.Time) (callID, jobID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	started := due.Add(-10 * time.Minute)
	ended := due.Add(-30 * time.Second)

	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO call_sessions (tenant_id, external_call_id, caller_number, called_number, extension, status, created_at, ended_at, duration_seconds)
		VALUES ($1, $2, '+12055550100', '+12055559999', '101', 'completed', $3, $4, 570)
		RETURNING id
	`, tenant, uuid.NewString(), started, ended).Scan(&callID))

	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO transcript_jobs (tenant_id, call_id, caller_number, agent_extension, call_started_at, call_ended_at, max_attempts, next_attempt_at)
		VALUES ($1, $2, '+12055550100', '101', $3, $4, 10, $5)
		RETURNING id
	`, tenant, callID, started, ended, due).Scan(&jobID))
	return callID, jobID
}

func TestRepositoryClaimLeaseAndGuards(t *testing.T) {
	pool := dbtest.Start(t)
	repo := transcripts.NewRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	tenant := uuid.New()

	callID, jobID := seedJob(t, pool, tenant, now.Add(-time.Minute))
	seedJob(t, pool, tenant, now.Add(time.Hour))

	jobs, err := repo.ClaimDue(ctx, now, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)

	again, err := repo.ClaimDue(ctx, now, 10, 5*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased job must not be claimed twice")

	ok, err := repo.Reschedule(ctx, jobID, 1, now.Add(time.Minute), "no matching transcript")
	require.NoError(t, err)
	assert.True(t, ok)

	job := jobs[0]
	job.Attempts = 1
	ok, err = repo.Fail(ctx, job, 10, "no matching transcript", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Reschedule(ctx, jobID, 2, now, "late writer")
	require.NoError(t, err)
	assert.False(t, ok, "failed job must not be rescheduled")

	ok, err = repo.Complete(ctx, job, transcripts.Completion{Extraction: transcripts.FallbackExtraction(), FinishedAt: now})
	require.NoError(t, err)
	assert.False(t, ok, "failed job must not be completed")

	var status, artifact string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM transcript_jobs WHERE id = $1`, jobID).Scan(&status))
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM call_review_artifacts WHERE call_id = $1`, callID).Scan(&artifact))
	assert.Equal(t, "failed", status)
	assert.Equal(t, transcripts.ArtifactNeedsManualReview, artifact)
}

func TestRepositoryCompleteWritesCall(t *testing.T) {
	pool := dbtest.Start(t)
	repo := transcripts.NewRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	callID, _ := seedJob(t, pool, uuid.New(), now.Add(-time.Minute))
	jobs, err := repo.ClaimDue(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	ok, err := repo.Complete(ctx, jobs[0], transcripts.Completion{
		Transcript: transcripts.Transcript{ExternalID: "t-1", Text: "full text"},
		Extraction: transcripts.Extraction{Summary: "Renewal question.", Direction: "outbound", Sentiment: "neutral"},
		FinishedAt: now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	var transcript, summary, direction string
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT transcript, summary, confirmed_direction FROM call_sessions WHERE id = $1
	`, callID).Scan(&transcript, &summary, &direction))
	assert.Equal(t, "full text", transcript)
	assert.Equal(t, "Renewal question.", summary)
	assert.Equal(t, "outbound", direction)
}

func TestSQLStorePicksBestCandidate(t *testing.T) {
	pool := dbtest.Start(t)
	store := transcripts.NewSQLStore(pool)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)

	rows := []struct {
		body, caller, ext string
		startOffset       time.Duration
	}{
		{"extension only, exact time", "+19995550000", "101", 0},
		{"both keys, a little off", "205-555-0100", "101", 20 * time.Second},
		{"number only, closer", "(205) 555-0100", "202", 5 * time.Second},
		{"outside window", "2055550100", "101", 10 * time.Minute},
	}
	for _, r := range rows {
		_, err := pool.Exec(ctx, `
			INSERT INTO transcripts (body, caller_number, agent_extension, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5)
		`, r.body, r.caller, r.ext, start.Add(r.startOffset), end.Add(r.startOffset))
		require.NoError(t, err)
	}

	got, err := store.Find(ctx, transcripts.Query{
		CallerNumber: "+12055550100", AgentExtension: "101",
		StartedAt: start, EndedAt: end, Window: 2 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "both keys, a little off", got.Text)

	_, err = store.Find(ctx, transcripts.Query{
		CallerNumber: "+13125550100", AgentExtension: "909",
		StartedAt: start, EndedAt: end, Window: 2 * time.Minute,
	})
	assert.ErrorIs(t, err, transcripts.ErrNotReady)
}
