package adapters

import (
	"context"
	"strings"

	"agency_calls_backend/internal/adapters/storage"
	"agency_calls_backend/internal/transcripts"

	"github.com/google/uuid"
)

const transcriptContentType = "text/plain; charset=utf-8"

// TranscriptArchiver copies transcripts to object storage.
type TranscriptArchiver struct {
	store  storage.ObjectStore
	bucket string
}

func NewTranscriptArchiver(store storage.ObjectStore, bucket string) *TranscriptArchiver {
	return &TranscriptArchiver{store: store, bucket: bucket}
}

func (a *TranscriptArchiver) ArchiveTranscript(ctx context.Context, tenantID, callID uuid.UUID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return a.store.Put(ctx, a.bucket, storage.TranscriptKey(tenantID, callID), transcriptContentType,
		strings.NewReader(text), int64(len(text)))
}

// Compile-time check that TranscriptArchiver implements transcripts.Archiver
var _ transcripts.Archiver = (*TranscriptArchiver)(nil)
