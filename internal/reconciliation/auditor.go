// Package reconciliation runs the daily read-only audit of the call pipeline
// and sends a digest when something needs attention.
package reconciliation

import (
	"context"
	"time"

	"agency_calls_backend/platform/logger"

	"github.com/google/uuid"
)

// Category names one audit check.
type Category string

const (
	CategoryOrphanedCalls        Category = "orphaned_calls"
	CategoryStuckArtifacts       Category = "stuck_artifacts"
	CategoryFailedTranscriptJobs Category = "failed_transcript_jobs"
	CategoryFailedRetryQueue     Category = "failed_retry_queue"
	CategoryOrphanedCorrelations Category = "orphaned_correlations"
)

const (
	defaultSampleSize = 10
	defaultRetention  = 24 * time.Hour
	queryTimeout      = 30 * time.Second
	sendTimeout       = 20 * time.Second
)

// Sample is the result of one category query.
type Sample struct {
	Total    int
	Examples []string
}

// Source answers the audit queries. Implementations never write.
type Source interface {
	OrphanedCalls(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error)
	StuckArtifacts(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error)
	FailedTranscriptJobs(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error)
	FailedRetryItems(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) (Sample, error)
	OrphanedCorrelations(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, limit int) (Sample, error)
}

// Messenger delivers a rendered digest.
type Messenger interface {
	SendDigest(ctx context.Context, d Digest) error
}

// Deduper makes sure one tenant gets at most one digest per day. Claim
// returns false when the digest was already sent.
type Deduper interface {
	Claim(ctx context.Context, tenantID uuid.UUID, day string) (bool, error)
	Release(ctx context.Context, tenantID uuid.UUID, day string) error
}

// Finding is one category in a report. Err is set when its query failed.
type Finding struct {
	Category Category
	Sample
	Err error
}

// Report is the outcome of one audit for one tenant.
type Report struct {
	TenantID    uuid.UUID
	GeneratedAt time.Time
	Findings    []Finding
	Sent        bool
}

// Total is the number of issues across all categories.
func (r Report) Total() int {
	total := 0
	for _, f := range r.Findings {
		total += f.Total
	}
	return total
}

// Failed lists categories whose query errored.
func (r Report) Failed() []Category {
	var out []Category
	for _, f := range r.Findings {
		if f.Err != nil {
			out = append(out, f.Category)
		}
	}
	return out
}

// Clean reports a day with nothing to tell anyone.
func (r Report) Clean() bool {
	return r.Total() == 0 && len(r.Failed()) == 0
}

// Auditor runs the daily audit.
type Auditor struct {
	source     Source
	messenger  Messenger
	dedupe     Deduper
	sampleSize int
	retention  time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// NewAuditor creates an auditor. sampleSize caps examples per category and
// retention is the age past which buffered correlation events are orphans.
func NewAuditor(source Source, messenger Messenger, sampleSize int, retention time.Duration, log *logger.Logger) *Auditor {
	if sampleSize < 1 {
		sampleSize = defaultSampleSize
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Auditor{
		source:     source,
		messenger:  messenger,
		sampleSize: sampleSize,
		retention:  retention,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetDeduper attaches the once-a-day guard.
func (a *Auditor) SetDeduper(d Deduper) {
	a.dedupe = d
}

// Run audits one tenant. A failing category is recorded and the rest still
// run. Only a failed digest delivery is returned as an error.
func (a *Auditor) Run(ctx context.Context, tenantID uuid.UUID) (Report, error) {
	now := a.now()
	report := Report{TenantID: tenantID, GeneratedAt: now}

	checks := []struct {
		category Category
		query    func(context.Context) (Sample, error)
	}{
		{CategoryOrphanedCalls, func(ctx context.Context) (Sample, error) {
			return a.source.OrphanedCalls(ctx, tenantID, now, a.sampleSize)
		}},
		{CategoryStuckArtifacts, func(ctx context.Context) (Sample, error) {
			return a.source.StuckArtifacts(ctx, tenantID, now, a.sampleSize)
		}},
		{CategoryFailedTranscriptJobs, func(ctx context.Context) (Sample, error) {
			return a.source.FailedTranscriptJobs(ctx, tenantID, now, a.sampleSize)
		}},
		{CategoryFailedRetryQueue, func(ctx context.Context) (Sample, error) {
			return a.source.FailedRetryItems(ctx, tenantID, now, a.sampleSize)
		}},
		{CategoryOrphanedCorrelations, func(ctx context.Context) (Sample, error) {
			return a.source.OrphanedCorrelations(ctx, tenantID, now.Add(-a.retention), a.sampleSize)
		}},
	}

	for _, check := range checks {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		sample, err := check.query(qctx)
		cancel()

		finding := Finding{Category: check.category, Sample: sample, Err: err}
		if err != nil {
			finding.Sample = Sample{}
			a.log.Warn("reconciliation query failed",
				"tenant_id", tenantID, "category", string(check.category), "error", err)
		}
		if len(finding.Examples) > a.sampleSize {
			finding.Examples = finding.Examples[:a.sampleSize]
		}
		report.Findings = append(report.Findings, finding)
	}

	if report.Clean() {
		a.log.Info("reconciliation clean", "tenant_id", tenantID)
		return report, nil
	}

	sent, err := a.deliver(ctx, report)
	report.Sent = sent
	return report, err
}

func (a *Auditor) deliver(ctx context.Context, report Report) (bool, error) {
	day := report.GeneratedAt.Format(time.DateOnly)
	if a.dedupe != nil {
		claimed, err := a.dedupe.Claim(ctx, report.TenantID, day)
		switch {
		case err != nil:
			a.log.Warn("digest dedupe unavailable, sending anyway", "tenant_id", report.TenantID, "error", err)
		case !claimed:
			a.log.Info("digest already sent today", "tenant_id", report.TenantID, "day", day)
			return false, nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := a.messenger.SendDigest(sctx, Render(report)); err != nil {
		a.log.Error("reconciliation digest failed", "tenant_id", report.TenantID, "error", err)
		if a.dedupe != nil {
			if rerr := a.dedupe.Release(context.WithoutCancel(ctx), report.TenantID, day); rerr != nil {
				a.log.Warn("digest dedupe release failed", "tenant_id", report.TenantID, "error", rerr)
			}
		}
		return false, err
	}

	a.log.Info("reconciliation digest sent", "tenant_id", report.TenantID, "issues", report.Total())
	return true, nil
}
