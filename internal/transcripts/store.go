package transcripts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agency_calls_backend/platform/phone"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultMatchWindow = 2 * time.Minute

// SQLStore queries the batch transcript store. It lives in a separate
// database that the transcription vendor loads with a delay, so rows often
// appear minutes after the call ended.
type SQLStore struct {
	pool *pgxpool.Pool
}

// NewSQLStore wraps a pool connected to the transcript store.
func NewSQLStore(pool *pgxpool.Pool) *SQLStore {
	return &SQLStore{pool: pool}
}

// Find returns the single best candidate, or ErrNotReady. Candidates must
// start and end within the window of the call and match the caller's
// last ten digits or the agent extension. Rows matching both rank first,
// then the smallest total time distance wins.
func (s *SQLStore) Find(ctx context.Context, q Query) (Transcript, error) {
	suffix := phone.MatchKey(q.CallerNumber)
	ext := strings.TrimSpace(q.AgentExtension)
	if suffix == "" && ext == "" {
		return Transcript{}, fmt.Errorf("%w: no caller number or extension to match on", ErrNotReady)
	}
	window := q.Window
	if window <= 0 {
		window = defaultMatchWindow
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return Transcript{}, fmt.Errorf("acquire transcript store connection: %w", err)
	}
	defer conn.Release()

	var t Transcript
	var direction, caller, extension *string
	err = conn.QueryRow(ctx, `
		SELECT id::text, body, direction, caller_number, agent_extension, started_at, ended_at
		FROM transcripts
		WHERE started_at BETWEEN $1 AND $2
		  AND ended_at BETWEEN $3 AND $4
		  AND (
			($5 <> '' AND right(regexp_replace(caller_number, '\D', '', 'g'), 10) = $5)
			OR ($6 <> '' AND agent_extension = $6)
		  )
		ORDER BY
			(($5 <> '' AND right(regexp_replace(caller_number, '\D', '', 'g'), 10) = $5)
			 AND ($6 <> '' AND agent_extension = $6)) DESC,
			abs(extract(epoch FROM started_at - $7)) + abs(extract(epoch FROM ended_at - $8)) ASC,
			id ASC
		LIMIT 1
	`,
		q.StartedAt.Add(-window), q.StartedAt.Add(window),
		q.EndedAt.Add(-window), q.EndedAt.Add(window),
		suffix, ext, q.StartedAt, q.EndedAt,
	).Scan(&t.ExternalID, &t.Text, &direction, &caller, &extension, &t.StartedAt, &t.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transcript{}, ErrNotReady
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("query transcript store: %w", err)
	}
	if direction != nil {
		t.Direction = *direction
	}
	if caller != nil {
		t.CallerNumber = *caller
	}
	if extension != nil {
		t.AgentExtension = *extension
	}
	return t, nil
}
