package adapters

import (
	"context"
	"encoding/json"

	"agency_calls_backend/internal/transcripts"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const kindCRMWriteback = "crm_writeback"

// RetryQueueWriter hands finished calls to the CRM writeback collaborator
// through its retry queue table.
type RetryQueueWriter struct {
	pool *pgxpool.Pool
}

func NewRetryQueueWriter(pool *pgxpool.Pool) *RetryQueueWriter {
	return &RetryQueueWriter{pool: pool}
}

// EnqueueCallWriteback is idempotent per call.
func (w *RetryQueueWriter) EnqueueCallWriteback(ctx context.Context, tenantID, callID uuid.UUID) error {
	payload, err := json.Marshal(map[string]string{"callId": callID.String()})
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, `
		INSERT INTO retry_queue (tenant_id, kind, reference, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, kind, reference) DO NOTHING
	`, tenantID, kindCRMWriteback, callID.String(), payload)
	return err
}

// Compile-time check that RetryQueueWriter implements transcripts.WritebackQueue
var _ transcripts.WritebackQueue = (*RetryQueueWriter)(nil)
