// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"agency_calls_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Call Lifecycle Events
// =============================================================================

// CallStarted is published when a new call session is created.
type CallStarted struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	CallID         uuid.UUID  `json:"callId"`
	ExternalCallID string     `json:"externalCallId"`
	Direction      string     `json:"direction"`
	CallerNumber   string     `json:"callerNumber"`
	CalledNumber   string     `json:"calledNumber"`
	CustomerID     *uuid.UUID `json:"customerId,omitempty"`
	AgentID        *uuid.UUID `json:"agentId,omitempty"`
	Extension      string     `json:"extension,omitempty"`
}

func (e CallStarted) EventName() string { return "calls.call.started" }

// CallAnswered is published when a ringing call is picked up.
type CallAnswered struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	CallID         uuid.UUID  `json:"callId"`
	ExternalCallID string     `json:"externalCallId"`
	AgentID        *uuid.UUID `json:"agentId,omitempty"`
	Extension      string     `json:"extension,omitempty"`
	AnsweredAt     time.Time  `json:"answeredAt"`
}

func (e CallAnswered) EventName() string { return "calls.call.answered" }

// CallHeld is published when an in-progress call is put on hold.
// The stored status does not change.
type CallHeld struct {
	BaseEvent
	TenantID       uuid.UUID `json:"tenantId"`
	CallID         uuid.UUID `json:"callId"`
	ExternalCallID string    `json:"externalCallId"`
}

func (e CallHeld) EventName() string { return "calls.call.held" }

// CallUnheld is published when a held call resumes.
type CallUnheld struct {
	BaseEvent
	TenantID       uuid.UUID `json:"tenantId"`
	CallID         uuid.UUID `json:"callId"`
	ExternalCallID string    `json:"externalCallId"`
}

func (e CallUnheld) EventName() string { return "calls.call.unheld" }

// CallEnded is published when a call reaches completed.
type CallEnded struct {
	BaseEvent
	TenantID        uuid.UUID `json:"tenantId"`
	CallID          uuid.UUID `json:"callId"`
	ExternalCallID  string    `json:"externalCallId"`
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds int       `json:"durationSeconds"`
	Answered        bool      `json:"answered"`
}

func (e CallEnded) EventName() string { return "calls.call.ended" }

// =============================================================================
// Transcript Events
// =============================================================================

// TranscriptReady is published when a transcript was found and attached.
type TranscriptReady struct {
	BaseEvent
	TenantID uuid.UUID `json:"tenantId"`
	CallID   uuid.UUID `json:"callId"`
	JobID    uuid.UUID `json:"jobId"`
	Summary  string    `json:"summary"`
	Attempts int       `json:"attempts"`
}

func (e TranscriptReady) EventName() string { return "calls.transcript.ready" }

// TranscriptFailed is published when retrieval exhausted every attempt.
type TranscriptFailed struct {
	BaseEvent
	TenantID  uuid.UUID `json:"tenantId"`
	CallID    uuid.UUID `json:"callId"`
	JobID     uuid.UUID `json:"jobId"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError"`
}

func (e TranscriptFailed) EventName() string { return "calls.transcript.failed" }
