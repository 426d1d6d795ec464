package adapters

import (
	"context"
	"errors"

	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CallHistoryReasonPredictor guesses a caller's reason from the extraction
// of their most recent transcribed call.
type CallHistoryReasonPredictor struct {
	pool *pgxpool.Pool
}

func NewCallHistoryReasonPredictor(pool *pgxpool.Pool) *CallHistoryReasonPredictor {
	return &CallHistoryReasonPredictor{pool: pool}
}

func (p *CallHistoryReasonPredictor) PredictReason(ctx context.Context, tenantID uuid.UUID, customerID *uuid.UUID, number string) (string, error) {
	key := phone.MatchKey(number)
	if customerID == nil && len(key) < 10 {
		return "", nil
	}

	var reason string
	err := p.pool.QueryRow(ctx, `
		SELECT extraction->>'callReason'
		FROM call_sessions
		WHERE tenant_id = $1
		  AND status = 'completed'
		  AND COALESCE(extraction->>'callReason', '') <> ''
		  AND (
			($2::uuid IS NOT NULL AND customer_id = $2)
			OR ($3 <> '' AND right(regexp_replace(
				CASE WHEN declared_direction = 'outbound' THEN called_number ELSE caller_number END,
				'\D', '', 'g'), 10) = $3)
		  )
		ORDER BY ended_at DESC
		LIMIT 1
	`, tenantID, customerID, key).Scan(&reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return reason, nil
}

// Compile-time check that CallHistoryReasonPredictor implements ports.ReasonPredictor
var _ ports.ReasonPredictor = (*CallHistoryReasonPredictor)(nil)
