// Package ports defines the interfaces the calls domain requires from
// external systems. These interfaces form the Anti-Corruption Layer (ACL):
// the calls domain only knows the data it needs, shaped the way it wants.
package ports

import (
	"context"

	"github.com/google/uuid"
)

// Customer is the customer reference the calls domain stores on a session.
type Customer struct {
	ID   uuid.UUID
	Name string
}

// Agent is an agent reachable on an extension.
type Agent struct {
	ID        uuid.UUID
	Name      string
	Extension string
}

// Directory resolves parties of a call. Lookups return nil, nil when
// nothing matches.
type Directory interface {
	// FindCustomerByPhone matches on the last ten digits; the first row wins.
	FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, number string) (*Customer, error)
	// FindAgentByExtension is an exact extension match.
	FindAgentByExtension(ctx context.Context, tenantID uuid.UUID, extension string) (*Agent, error)
	// ListAgents returns every agent with an extension, ordered by extension.
	ListAgents(ctx context.Context, tenantID uuid.UUID) ([]Agent, error)
}

// CaptureSession is what the capture subsystem reports when it starts recording.
type CaptureSession struct {
	SessionID           string
	ExternalPartyNumber string
}

// CaptureController starts and stops audio capture for a call. Both calls
// are best-effort.
type CaptureController interface {
	// StartCapture returns nil when the subsystem did not open a session.
	StartCapture(ctx context.Context, tenantID uuid.UUID, externalCallID, extension string) (*CaptureSession, error)
	StopCapture(ctx context.Context, tenantID uuid.UUID, sessionID string) error
}

// ReasonPredictor suggests why a caller is likely calling. An empty string
// means no hint.
type ReasonPredictor interface {
	PredictReason(ctx context.Context, tenantID uuid.UUID, customerID *uuid.UUID, number string) (string, error)
}
