package service

import (
	"context"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/normalizer"
	"agency_calls_backend/internal/calls/repository"
	"agency_calls_backend/platform/apperr"

	"github.com/google/uuid"
)

const sessionReadyKind = "session_ready"

// HandleSessionReady attaches a transcription session to its call, or
// buffers it when the call does not exist yet. A later event for the same
// call replaces the buffered one.
func (s *Service) HandleSessionReady(ctx context.Context, tenantID uuid.UUID, ready normalizer.SessionReady) (Result, error) {
	s.logIrregular(tenantID, ready.ExternalCallID, ready.Irregular)

	if ready.ExternalCallID == "" || ready.SessionID == "" {
		s.log.CallEvent(tenantID.String(), ready.ExternalCallID, sessionReadyKind, string(domain.OutcomeIgnored))
		return Result{Outcome: domain.OutcomeIgnored}, nil
	}

	var res Result
	err := s.store.WithCallLock(ctx, tenantID, ready.ExternalCallID, func(tx repository.CallTx) error {
		current, err := tx.FindSession(ctx, tenantID, ready.ExternalCallID)
		if err != nil {
			return err
		}

		if current == nil {
			res.Outcome = domain.OutcomeBuffered
			return tx.UpsertPendingCorrelation(ctx, domain.PendingCorrelation{
				TenantID:            tenantID,
				ExternalCallID:      ready.ExternalCallID,
				SessionID:           ready.SessionID,
				ExternalPartyNumber: ready.ExternalPartyNumber,
				ReceivedAt:          ready.ReceivedAt,
			})
		}

		id := current.ID
		res = Result{Outcome: domain.OutcomeAttached, CallID: &id, Status: current.Status}
		return tx.AttachTranscriptionSession(ctx, current.ID, ready.SessionID, ready.ExternalPartyNumber)
	})
	if err != nil {
		s.log.DatabaseError("calls.HandleSessionReady", err)
		return Result{}, apperr.Wrap(apperr.KindInternal, "failed to apply session event", err).WithOp("calls.HandleSessionReady")
	}

	s.log.CallEvent(tenantID.String(), ready.ExternalCallID, sessionReadyKind, string(res.Outcome))
	return res, nil
}
