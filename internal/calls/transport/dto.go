package transport

import (
	"time"

	"agency_calls_backend/internal/calls/domain"

	"github.com/google/uuid"
)

// Webhook acknowledgement statuses.
const (
	AckOK      = "ok"
	AckIgnored = "ignored"
)

// EventAck is the body returned to switches, relays and the transcription
// subsystem.
type EventAck struct {
	Status     string     `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
	CallID     *uuid.UUID `json:"callId,omitempty"`
	CallStatus string     `json:"callStatus,omitempty"`
}

// ListCallsRequest is the query for the recent calls list.
type ListCallsRequest struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=200"`
}

// CallResponse is the dashboard view of a call.
type CallResponse struct {
	ID                     uuid.UUID  `json:"id"`
	ExternalCallID         string     `json:"externalCallId"`
	Status                 string     `json:"status"`
	Direction              string     `json:"direction"`
	DeclaredDirection      string     `json:"declaredDirection"`
	ConfirmedDirection     *string    `json:"confirmedDirection,omitempty"`
	CallerNumber           string     `json:"callerNumber"`
	CalledNumber           string     `json:"calledNumber"`
	CustomerID             *uuid.UUID `json:"customerId,omitempty"`
	AgentID                *uuid.UUID `json:"agentId,omitempty"`
	Extension              string     `json:"extension,omitempty"`
	PredictedReason        *string    `json:"predictedReason,omitempty"`
	TranscriptionSessionID *string    `json:"transcriptionSessionId,omitempty"`
	ExternalPartyNumber    *string    `json:"externalPartyNumber,omitempty"`
	Summary                *string    `json:"summary,omitempty"`
	HasTranscript          bool       `json:"hasTranscript"`
	CreatedAt              time.Time  `json:"createdAt"`
	AnsweredAt             *time.Time `json:"answeredAt,omitempty"`
	EndedAt                *time.Time `json:"endedAt,omitempty"`
	DurationSeconds        *int       `json:"durationSeconds,omitempty"`
}

// ToCallResponse maps a session for the dashboard.
func ToCallResponse(s domain.Session) CallResponse {
	resp := CallResponse{
		ID:                     s.ID,
		ExternalCallID:         s.ExternalCallID,
		Status:                 string(s.Status),
		Direction:              string(s.EffectiveDirection()),
		DeclaredDirection:      string(s.DeclaredDirection),
		CallerNumber:           s.CallerNumber,
		CalledNumber:           s.CalledNumber,
		CustomerID:             s.CustomerID,
		AgentID:                s.AgentID,
		Extension:              s.Extension,
		PredictedReason:        s.PredictedReason,
		TranscriptionSessionID: s.TranscriptionSessionID,
		ExternalPartyNumber:    s.ExternalPartyNumber,
		Summary:                s.Summary,
		HasTranscript:          s.Transcript != nil && *s.Transcript != "",
		CreatedAt:              s.CreatedAt,
		AnsweredAt:             s.AnsweredAt,
		EndedAt:                s.EndedAt,
		DurationSeconds:        s.DurationSeconds,
	}
	if s.ConfirmedDirection != nil {
		d := string(*s.ConfirmedDirection)
		resp.ConfirmedDirection = &d
	}
	return resp
}
