// Package domain provides the call lifecycle rules for the calls bounded context.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the stored lifecycle state of a call session.
type Status string

const (
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var statusRanks = map[Status]int{
	StatusRinging:    1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

// Rank orders statuses; unknown values rank 0.
func (s Status) Rank() int {
	return statusRanks[s]
}

// CanTransition reports whether moving from one status to another is a
// forward step. Equal or lower ranks are never applied.
func CanTransition(from, to Status) bool {
	return to.Rank() > from.Rank()
}

// Direction is the call direction.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Session is one physical call, keyed by (tenant, external call id).
type Session struct {
	ID                     uuid.UUID
	TenantID               uuid.UUID
	ExternalCallID         string
	CallerNumber           string
	CalledNumber           string
	CustomerID             *uuid.UUID
	AgentID                *uuid.UUID
	Extension              string
	Status                 Status
	DeclaredDirection      Direction
	ConfirmedDirection     *Direction
	PredictedReason        *string
	TranscriptionSessionID *string
	ExternalPartyNumber    *string
	Transcript             *string
	Summary                *string
	CreatedAt              time.Time
	AnsweredAt             *time.Time
	EndedAt                *time.Time
	DurationSeconds        *int
	UpdatedAt              time.Time
}

// EffectiveDirection prefers the transcript-confirmed direction once known.
func (s Session) EffectiveDirection() Direction {
	if s.ConfirmedDirection != nil && *s.ConfirmedDirection != "" {
		return *s.ConfirmedDirection
	}
	return s.DeclaredDirection
}

// CustomerNumber is the external party of the call: the caller on inbound
// calls, the dialed number on outbound ones.
func (s Session) CustomerNumber() string {
	if s.DeclaredDirection == DirectionOutbound {
		return s.CalledNumber
	}
	return s.CallerNumber
}

// PendingCorrelation is a transcription session that named a call which did
// not exist yet. At most one per (tenant, external call id).
type PendingCorrelation struct {
	TenantID            uuid.UUID
	ExternalCallID      string
	SessionID           string
	ExternalPartyNumber string
	ReceivedAt          time.Time
}

// CallDuration returns the whole-second duration of a finished call. A
// reported duration wins; otherwise it is measured from the answer time, or
// from creation for calls that were never answered. Never negative.
func CallDuration(reported *int, createdAt time.Time, answeredAt *time.Time, endedAt time.Time) int {
	if reported != nil {
		if *reported < 0 {
			return 0
		}
		return *reported
	}
	start := createdAt
	if answeredAt != nil {
		start = *answeredAt
	}
	secs := int(endedAt.Sub(start) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
