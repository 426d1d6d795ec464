package service

import (
	"context"
	"errors"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/normalizer"
	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/internal/calls/repository"
	"agency_calls_backend/internal/events"
	"agency_calls_backend/platform/apperr"

	"github.com/google/uuid"
)

// parties is what could be resolved about a call before taking its lock.
type parties struct {
	customer *ports.Customer
	agent    *ports.Agent
	reason   string
}

// HandleEvent applies one normalized call event. Unknown kinds and events
// without a call id are acknowledged as ignored. An answered, hold or ended
// event for a call that does not exist returns an apperr NotFound together
// with a not_found result.
func (s *Service) HandleEvent(ctx context.Context, tenantID uuid.UUID, ev normalizer.Event) (Result, error) {
	s.logIrregular(tenantID, ev.ExternalCallID, ev.Irregular)

	if ev.Kind == domain.KindUnknown || ev.ExternalCallID == "" {
		s.log.CallEvent(tenantID.String(), ev.ExternalCallID, ev.RawKind, string(domain.OutcomeIgnored))
		return Result{Outcome: domain.OutcomeIgnored}, nil
	}

	var resolved parties
	switch ev.Kind {
	case domain.KindStarted:
		resolved = s.resolveParties(ctx, tenantID, ev)
	case domain.KindAnswered:
		if ev.Extension != "" {
			resolved.agent = s.resolveAgent(ctx, tenantID, ev.Extension)
		}
	}

	var (
		res  Result
		call domain.Session
	)
	err := s.store.WithCallLock(ctx, tenantID, ev.ExternalCallID, func(tx repository.CallTx) error {
		current, err := tx.FindSession(ctx, tenantID, ev.ExternalCallID)
		if err != nil {
			return err
		}

		var status domain.Status
		if current != nil {
			call = *current
			status = current.Status
		}
		tr := domain.Decide(ev.Kind, current != nil, status)
		res.Outcome = tr.Outcome

		switch tr.Outcome {
		case domain.OutcomeCreated:
			created, err := s.createSession(ctx, tx, tenantID, ev, resolved)
			if errors.Is(err, repository.ErrDuplicate) {
				res.Outcome = domain.OutcomeDuplicate
				return nil
			}
			if err != nil {
				return err
			}
			call = created

		case domain.OutcomeAnswered:
			if err := s.markAnswered(ctx, tx, &call, ev, resolved.agent); err != nil {
				return err
			}
			if call.Status != domain.StatusInProgress {
				res.Outcome = domain.OutcomeDuplicate
			}

		case domain.OutcomeCompleted:
			if err := s.markCompleted(ctx, tx, &call, ev); err != nil {
				return err
			}
			if call.Status != domain.StatusCompleted {
				res.Outcome = domain.OutcomeDuplicate
			}

		case domain.OutcomeHeld, domain.OutcomeUnheld:
			return tx.ReassertInProgress(ctx, call.ID)
		}
		return nil
	})
	if err != nil {
		s.log.DatabaseError("calls.HandleEvent", err)
		return Result{}, apperr.Wrap(apperr.KindInternal, "failed to apply call event", err).WithOp("calls.HandleEvent")
	}

	s.log.CallEvent(tenantID.String(), ev.ExternalCallID, string(ev.Kind), string(res.Outcome))

	if res.Outcome == domain.OutcomeNotFound {
		return res, apperr.NotFound(errCallNotFound).WithDetails(map[string]string{"externalCallId": ev.ExternalCallID})
	}

	if call.ID != uuid.Nil {
		id := call.ID
		res.CallID = &id
		res.Status = call.Status
	}

	s.afterCommit(ctx, res.Outcome, call)
	return res, nil
}

func (s *Service) createSession(ctx context.Context, tx repository.CallTx, tenantID uuid.UUID, ev normalizer.Event, resolved parties) (domain.Session, error) {
	call := domain.Session{
		TenantID:          tenantID,
		ExternalCallID:    ev.ExternalCallID,
		CallerNumber:      ev.CallerNumber,
		CalledNumber:      ev.CalledNumber,
		Extension:         ev.Extension,
		Status:            domain.StatusRinging,
		DeclaredDirection: ev.Direction,
		CreatedAt:         ev.Timestamp,
	}
	if resolved.customer != nil {
		id := resolved.customer.ID
		call.CustomerID = &id
	}
	if resolved.agent != nil {
		id := resolved.agent.ID
		call.AgentID = &id
	}
	if resolved.reason != "" {
		reason := resolved.reason
		call.PredictedReason = &reason
	}

	if err := tx.CreateSession(ctx, &call); err != nil {
		return domain.Session{}, err
	}

	pending, err := tx.TakePendingCorrelation(ctx, tenantID, ev.ExternalCallID)
	if err != nil {
		return domain.Session{}, err
	}
	if pending != nil {
		if err := tx.AttachTranscriptionSession(ctx, call.ID, pending.SessionID, pending.ExternalPartyNumber); err != nil {
			return domain.Session{}, err
		}
		sessionID := pending.SessionID
		call.TranscriptionSessionID = &sessionID
		if pending.ExternalPartyNumber != "" {
			party := pending.ExternalPartyNumber
			call.ExternalPartyNumber = &party
		}
		s.log.Info("buffered transcription session flushed onto new call",
			"tenant_id", tenantID.String(),
			"external_call_id", ev.ExternalCallID,
			"session_id", pending.SessionID,
		)
	}
	return call, nil
}

func (s *Service) markAnswered(ctx context.Context, tx repository.CallTx, call *domain.Session, ev normalizer.Event, agent *ports.Agent) error {
	agentID := call.AgentID
	if agentID == nil && agent != nil {
		id := agent.ID
		agentID = &id
	}
	extension := call.Extension
	if extension == "" {
		extension = ev.Extension
	}

	ok, err := tx.MarkAnswered(ctx, call.ID, ev.Timestamp, agentID, extension)
	if err != nil || !ok {
		return err
	}

	answeredAt := ev.Timestamp
	call.Status = domain.StatusInProgress
	call.AnsweredAt = &answeredAt
	call.AgentID = agentID
	call.Extension = extension
	return nil
}

func (s *Service) markCompleted(ctx context.Context, tx repository.CallTx, call *domain.Session, ev normalizer.Event) error {
	endedAt := ev.Timestamp
	duration := domain.CallDuration(ev.DurationSeconds, call.CreatedAt, call.AnsweredAt, endedAt)

	ok, err := tx.MarkCompleted(ctx, call.ID, endedAt, duration)
	if err != nil || !ok {
		return err
	}
	call.Status = domain.StatusCompleted
	call.EndedAt = &endedAt
	call.DurationSeconds = &duration

	startedAt := call.CreatedAt
	if call.AnsweredAt != nil {
		startedAt = *call.AnsweredAt
	}
	created, err := tx.EnqueueTranscriptJob(ctx, repository.NewTranscriptJob{
		TenantID:       call.TenantID,
		CallID:         call.ID,
		CallerNumber:   call.CustomerNumber(),
		AgentExtension: call.Extension,
		CallStartedAt:  startedAt,
		CallEndedAt:    endedAt,
		MaxAttempts:    s.schedule.MaxAttempts(),
		NextAttemptAt:  s.schedule.FirstAttemptAt(endedAt),
	})
	if err != nil {
		return err
	}
	if !created {
		s.log.Warn("transcript job already existed for completed call", "call_id", call.ID.String())
	}
	return nil
}

func (s *Service) afterCommit(ctx context.Context, outcome domain.Outcome, call domain.Session) {
	ctx, cancel := detached(ctx)
	defer cancel()

	base := events.NewBaseEvent()
	switch outcome {
	case domain.OutcomeCreated:
		s.publish(ctx, events.CallStarted{
			BaseEvent:      base,
			TenantID:       call.TenantID,
			CallID:         call.ID,
			ExternalCallID: call.ExternalCallID,
			Direction:      string(call.DeclaredDirection),
			CallerNumber:   call.CallerNumber,
			CalledNumber:   call.CalledNumber,
			CustomerID:     call.CustomerID,
			AgentID:        call.AgentID,
			Extension:      call.Extension,
		})

	case domain.OutcomeAnswered:
		s.publish(ctx, events.CallAnswered{
			BaseEvent:      base,
			TenantID:       call.TenantID,
			CallID:         call.ID,
			ExternalCallID: call.ExternalCallID,
			AgentID:        call.AgentID,
			Extension:      call.Extension,
			AnsweredAt:     derefTime(call.AnsweredAt),
		})
		s.startCapture(ctx, call)

	case domain.OutcomeCompleted:
		s.publish(ctx, events.CallEnded{
			BaseEvent:       base,
			TenantID:        call.TenantID,
			CallID:          call.ID,
			ExternalCallID:  call.ExternalCallID,
			EndedAt:         derefTime(call.EndedAt),
			DurationSeconds: derefInt(call.DurationSeconds),
			Answered:        call.AnsweredAt != nil,
		})
		s.stopCapture(ctx, call)

	case domain.OutcomeHeld:
		s.publish(ctx, events.CallHeld{BaseEvent: base, TenantID: call.TenantID, CallID: call.ID, ExternalCallID: call.ExternalCallID})

	case domain.OutcomeUnheld:
		s.publish(ctx, events.CallUnheld{BaseEvent: base, TenantID: call.TenantID, CallID: call.ID, ExternalCallID: call.ExternalCallID})
	}
}
