// Package notification forwards call domain events to connected dashboards.
package notification

import (
	"context"

	"agency_calls_backend/internal/events"
	apphttp "agency_calls_backend/internal/http"
	"agency_calls_backend/internal/notification/sse"
	"agency_calls_backend/platform/httpkit"
	"agency_calls_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module handles call event subscriptions and the live stream route.
type Module struct {
	sse *sse.Service
	log *logger.Logger
}

func New(s *sse.Service, log *logger.Logger) *Module {
	return &Module{sse: s, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterRoutes mounts GET /api/v1/calls/stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/calls/stream", m.sse.Handler(userIDFrom, tenantIDFrom))
}

// RegisterHandlers subscribes to the call lifecycle and transcript events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CallStarted{}.EventName(), m)
	bus.Subscribe(events.CallAnswered{}.EventName(), m)
	bus.Subscribe(events.CallHeld{}.EventName(), m)
	bus.Subscribe(events.CallUnheld{}.EventName(), m)
	bus.Subscribe(events.CallEnded{}.EventName(), m)
	bus.Subscribe(events.TranscriptReady{}.EventName(), m)
	bus.Subscribe(events.TranscriptFailed{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the tenant's SSE clients.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CallStarted:
		m.push(e.TenantID, sse.EventCallStarted, e.CallID, e)
	case events.CallAnswered:
		m.push(e.TenantID, sse.EventCallAnswered, e.CallID, e)
	case events.CallHeld:
		m.push(e.TenantID, sse.EventCallOnHold, e.CallID, e)
	case events.CallUnheld:
		m.push(e.TenantID, sse.EventCallResumed, e.CallID, e)
	case events.CallEnded:
		m.push(e.TenantID, sse.EventCallEnded, e.CallID, e)
	case events.TranscriptReady:
		m.push(e.TenantID, sse.EventTranscriptReady, e.CallID, e)
	case events.TranscriptFailed:
		m.push(e.TenantID, sse.EventTranscriptFailed, e.CallID, e)
	default:
		m.log.Debug("notification module ignoring event", "event", event.EventName())
	}
	return nil
}

func (m *Module) push(tenantID uuid.UUID, t sse.EventType, callID uuid.UUID, data any) {
	m.sse.PublishToTenant(tenantID, sse.Event{Type: t, CallID: callID, Data: data})
}

func userIDFrom(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.GetIdentity(c)
	if !id.IsAuthenticated() {
		return uuid.Nil, false
	}
	return id.UserID(), true
}

func tenantIDFrom(c *gin.Context) (uuid.UUID, bool) {
	tenantID := httpkit.GetIdentity(c).TenantID()
	if tenantID == nil {
		return uuid.Nil, false
	}
	return *tenantID, true
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
