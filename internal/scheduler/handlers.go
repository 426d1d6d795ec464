package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"agency_calls_backend/internal/reconciliation"
	"agency_calls_backend/internal/transcripts"
	"agency_calls_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// activityLookback covers the orphaned-call window plus its grace day.
const activityLookback = 8 * 24 * time.Hour

type Sweeper interface {
	RunBatch(ctx context.Context) (transcripts.BatchResult, error)
}

type Auditor interface {
	Run(ctx context.Context, tenantID uuid.UUID) (reconciliation.Report, error)
}

// KeyTenants lists tenants that hold an active webhook key.
type KeyTenants interface {
	ListActiveTenants(ctx context.Context) ([]uuid.UUID, error)
}

// ActivityTenants lists tenants with recent call data.
type ActivityTenants interface {
	ListTenants(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

type CorrelationPurger interface {
	PurgeOrphanedCorrelations(ctx context.Context, retention time.Duration) (int64, error)
}

// Handlers holds the task implementations, independent of the asynq server.
type Handlers struct {
	sweeper   Sweeper
	auditor   Auditor
	keys      KeyTenants
	activity  ActivityTenants
	purger    CorrelationPurger
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time
}

func NewHandlers(sweeper Sweeper, auditor Auditor, log *logger.Logger) *Handlers {
	return &Handlers{
		sweeper: sweeper,
		auditor: auditor,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetTenantSources configures where scheduled audits find their tenants.
func (h *Handlers) SetTenantSources(keys KeyTenants, activity ActivityTenants) {
	h.keys = keys
	h.activity = activity
}

// SetPurger enables the orphan purge after a full audit run.
func (h *Handlers) SetPurger(purger CorrelationPurger, retention time.Duration) {
	h.purger = purger
	h.retention = retention
}

func (h *Handlers) register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTranscriptSweep, h.handleSweep)
	mux.HandleFunc(TaskReconciliationAudit, h.handleAudit)
}

// handleSweep runs one batch; the worker logs its own summary.
func (h *Handlers) handleSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := h.sweeper.RunBatch(ctx)
	return err
}

func (h *Handlers) handleAudit(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAuditPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	var tenants []uuid.UUID
	if payload.TenantID != "" {
		tenantID, err := uuid.Parse(payload.TenantID)
		if err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		tenants = []uuid.UUID{tenantID}
	} else {
		tenants, err = h.tenants(ctx)
		if err != nil {
			return err
		}
	}

	var errs []error
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := h.auditor.Run(ctx, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		h.log.Info("reconciliation audited tenant",
			"tenant_id", tenantID, "issues", report.Total(), "sent", report.Sent)
	}

	if payload.TenantID == "" && h.purger != nil && ctx.Err() == nil {
		purged, err := h.purger.PurgeOrphanedCorrelations(ctx, h.retention)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge orphaned correlations: %w", err))
		} else if purged > 0 {
			h.log.Info("purged orphaned correlation events", "count", purged)
		}
	}

	return errors.Join(errs...)
}

// tenants merges both sources. One failing source still audits the other.
func (h *Handlers) tenants(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var errs []error

	if h.keys != nil {
		ids, err := h.keys.ListActiveTenants(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	if h.activity != nil {
		ids, err := h.activity.ListTenants(ctx, h.now().Add(-activityLookback))
		if err != nil {
			errs = append(errs, err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	if len(seen) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		h.log.Warn("tenant listing partially failed", "error", err)
	}

	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
