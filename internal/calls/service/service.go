// Package service holds the call session registry: it applies normalized
// telephony events to call sessions under a per-call lock, flushes the
// correlation buffer, and enqueues transcript retrieval when calls complete.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/internal/calls/repository"
	"agency_calls_backend/internal/events"
	"agency_calls_backend/internal/transcripts"
	"agency_calls_backend/platform/apperr"
	"agency_calls_backend/platform/logger"
	"agency_calls_backend/platform/phone"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// sideEffectTimeout bounds every best-effort collaborator call.
	sideEffectTimeout = 10 * time.Second

	errCallNotFound = "call not found"
)

// Result is what the registry reports back to the webhook caller.
type Result struct {
	Outcome domain.Outcome
	CallID  *uuid.UUID
	Status  domain.Status
}

// Service provides the call session registry.
type Service struct {
	store     repository.Store
	directory ports.Directory
	capture   ports.CaptureController
	predictor ports.ReasonPredictor
	eventBus  events.Bus
	schedule  transcripts.Schedule
	log       *logger.Logger
	now       func() time.Time
}

// New creates the registry. Capture control and reason prediction are
// optional and attached with setters.
func New(store repository.Store, directory ports.Directory, eventBus events.Bus, schedule transcripts.Schedule, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		directory: directory,
		eventBus:  eventBus,
		schedule:  schedule,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetCaptureController attaches the audio capture collaborator.
func (s *Service) SetCaptureController(capture ports.CaptureController) {
	s.capture = capture
}

// SetReasonPredictor attaches the call reason hint collaborator.
func (s *Service) SetReasonPredictor(predictor ports.ReasonPredictor) {
	s.predictor = predictor
}

// GetCall returns one call for the tenant.
func (s *Service) GetCall(ctx context.Context, tenantID, id uuid.UUID) (domain.Session, error) {
	call, err := s.store.GetByID(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Session{}, apperr.NotFound(errCallNotFound)
	}
	if err != nil {
		return domain.Session{}, apperr.Wrap(apperr.KindInternal, "failed to load call", err)
	}
	return call, nil
}

// ListRecent returns the newest calls for the tenant.
func (s *Service) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	calls, err := s.store.ListRecent(ctx, tenantID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list calls", err)
	}
	return calls, nil
}

// PurgeOrphanedCorrelations drops buffered session events older than the
// retention window whose call never materialized.
func (s *Service) PurgeOrphanedCorrelations(ctx context.Context, retention time.Duration) (int64, error) {
	purged, err := s.store.PurgePendingCorrelations(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info("purged orphaned correlation events", "count", purged, "retention", retention.String())
	}
	return purged, nil
}

func (s *Service) logIrregular(tenantID uuid.UUID, externalCallID string, numbers []string) {
	for _, n := range numbers {
		s.log.Warn("irregular phone number kept as sent",
			slog.String("tenant_id", tenantID.String()),
			slog.String("external_call_id", externalCallID),
			slog.String("number", n),
			slog.String("kind", phone.Classify(n)),
		)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(ctx, event)
}

// detached returns a bounded context that survives the caller's cancellation,
// for side effects that run after the transaction committed.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}
