package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxObjectSize caps archived objects. Transcripts of even very long calls
// stay far below it.
const MaxObjectSize int64 = 10 << 20

// AllowedContentTypes defines the MIME types the archive accepts.
var AllowedContentTypes = map[string]bool{
	"text/plain":       true,
	"application/json": true,
}

// ValidateContentType checks if the content type is allowed.
func ValidateContentType(contentType string) error {
	// Normalize content type (remove parameters like charset)
	normalized := strings.Split(contentType, ";")[0]
	normalized = strings.TrimSpace(strings.ToLower(normalized))

	if !AllowedContentTypes[normalized] {
		return fmt.Errorf("content type %q is not allowed", contentType)
	}
	return nil
}

// ValidateSize checks if the object size is within limits.
func ValidateSize(sizeBytes int64) error {
	if sizeBytes <= 0 {
		return fmt.Errorf("object size must be greater than 0")
	}
	if sizeBytes > MaxObjectSize {
		return fmt.Errorf("object size %d bytes exceeds maximum allowed size of %d bytes", sizeBytes, MaxObjectSize)
	}
	return nil
}

// TranscriptKey is the archive key for a call's transcript.
func TranscriptKey(tenantID, callID uuid.UUID) string {
	return path.Join(tenantID.String(), "calls", callID.String(), "transcript.txt")
}
