package service

import (
	"context"
	"time"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/repository"
)

// startCapture asks the capture subsystem to record the call. When it
// answers with a session the session is attached, unless a session-ready
// event already did so.
func (s *Service) startCapture(ctx context.Context, call domain.Session) {
	if s.capture == nil {
		return
	}

	session, err := s.capture.StartCapture(ctx, call.TenantID, call.ExternalCallID, call.Extension)
	if err != nil {
		s.log.Warn("start capture failed", "call_id", call.ID.String(), "error", err)
		return
	}
	if session == nil || session.SessionID == "" || call.TranscriptionSessionID != nil {
		return
	}

	err = s.store.WithCallLock(ctx, call.TenantID, call.ExternalCallID, func(tx repository.CallTx) error {
		current, err := tx.FindSession(ctx, call.TenantID, call.ExternalCallID)
		if err != nil || current == nil || current.TranscriptionSessionID != nil {
			return err
		}
		return tx.AttachTranscriptionSession(ctx, current.ID, session.SessionID, session.ExternalPartyNumber)
	})
	if err != nil {
		s.log.Warn("attach capture session failed", "call_id", call.ID.String(), "error", err)
	}
}

func (s *Service) stopCapture(ctx context.Context, call domain.Session) {
	if s.capture == nil || call.TranscriptionSessionID == nil {
		return
	}
	if err := s.capture.StopCapture(ctx, call.TenantID, *call.TranscriptionSessionID); err != nil {
		s.log.Warn("stop capture failed", "call_id", call.ID.String(), "error", err)
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
