package reconciliation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Digest is a rendered report ready for a messenger.
type Digest struct {
	TenantID uuid.UUID
	Subject  string
	Body     string
}

var categoryTitles = map[Category]string{
	CategoryOrphanedCalls:        "Completed calls with no review artifact after 24h",
	CategoryStuckArtifacts:       "Review artifacts stuck in progress for more than 8h",
	CategoryFailedTranscriptJobs: "Transcript retrievals that gave up in the last 24h",
	CategoryFailedRetryQueue:     "CRM writebacks that failed in the last 24h",
	CategoryOrphanedCorrelations: "Transcription sessions that never matched a call",
}

// Render formats a report as plain text.
func Render(r Report) Digest {
	var b strings.Builder
	fmt.Fprintf(&b, "Call pipeline reconciliation for %s\n", r.GeneratedAt.Format(time.DateOnly))
	fmt.Fprintf(&b, "%d issue(s) found.\n", r.Total())

	for _, f := range r.Findings {
		title := categoryTitles[f.Category]
		if title == "" {
			title = string(f.Category)
		}
		switch {
		case f.Err != nil:
			fmt.Fprintf(&b, "\n%s: check failed (%v)\n", title, f.Err)
		case f.Total == 0:
			continue
		default:
			fmt.Fprintf(&b, "\n%s: %d\n", title, f.Total)
			for _, ex := range f.Examples {
				fmt.Fprintf(&b, "  - %s\n", ex)
			}
			if more := f.Total - len(f.Examples); more > 0 {
				fmt.Fprintf(&b, "  ... and %d more\n", more)
			}
		}
	}

	return Digest{
		TenantID: r.TenantID,
		Subject:  subject(r),
		Body:     b.String(),
	}
}

func subject(r Report) string {
	day := r.GeneratedAt.Format(time.DateOnly)
	failed := r.Failed()
	if len(failed) == 0 {
		return fmt.Sprintf("[calls] %d reconciliation issue(s) on %s", r.Total(), day)
	}
	names := make([]string, len(failed))
	for i, c := range failed {
		names[i] = string(c)
	}
	checks := strings.Join(names, ", ")
	if r.Total() == 0 {
		return fmt.Sprintf("[calls] reconciliation checks failed on %s: %s", day, checks)
	}
	return fmt.Sprintf("[calls] %d reconciliation issue(s) on %s, checks failed: %s", r.Total(), day, checks)
}
