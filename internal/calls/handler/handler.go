// Package handler exposes the call webhooks and the dashboard read API.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/normalizer"
	"agency_calls_backend/internal/calls/service"
	"agency_calls_backend/internal/calls/transport"
	"agency_calls_backend/internal/webhook"
	"agency_calls_backend/platform/apperr"
	"agency_calls_backend/platform/httpkit"
	"agency_calls_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	maxBodyBytes = 1 << 20

	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Registry is the part of the calls service the handler drives.
type Registry interface {
	HandleEvent(ctx context.Context, tenantID uuid.UUID, ev normalizer.Event) (service.Result, error)
	HandleSessionReady(ctx context.Context, tenantID uuid.UUID, ready normalizer.SessionReady) (service.Result, error)
	GetCall(ctx context.Context, tenantID, id uuid.UUID) (domain.Session, error)
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Session, error)
}

// Handler handles HTTP requests for calls.
type Handler struct {
	svc  Registry
	norm *normalizer.Normalizer
	val  *validator.Validator
	now  func() time.Time
}

// New creates a new calls handler.
func New(svc Registry, norm *normalizer.Normalizer, val *validator.Validator) *Handler {
	return &Handler{svc: svc, norm: norm, val: val, now: time.Now}
}

// RegisterWebhookRoutes mounts the telephony webhooks. Combined and split
// topologies are both served.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/events", h.HandleEvent)
	rg.POST("/started", h.HandleStarted)
	rg.POST("/answered", h.HandleAnswered)
	rg.POST("/session-ready", h.HandleSessionReady)
}

// RegisterRoutes mounts the dashboard read routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id", h.GetByID)
}

// HandleEvent handles POST /api/v1/webhook/calls/events
func (h *Handler) HandleEvent(c *gin.Context) {
	h.handleCallEvent(c, "")
}

// HandleStarted handles POST /api/v1/webhook/calls/started
func (h *Handler) HandleStarted(c *gin.Context) {
	h.handleCallEvent(c, domain.KindStarted)
}

// HandleAnswered handles POST /api/v1/webhook/calls/answered
func (h *Handler) HandleAnswered(c *gin.Context) {
	h.handleCallEvent(c, domain.KindAnswered)
}

func (h *Handler) handleCallEvent(c *gin.Context, implied domain.Kind) {
	tenantID, ok := webhookTenant(c)
	if !ok {
		return
	}
	payload, ok := decodeBody(c)
	if !ok {
		return
	}

	ev := h.norm.Normalize(payload, h.now())
	if implied != "" {
		ev = ev.WithKind(implied)
	}

	res, err := h.svc.HandleEvent(c.Request.Context(), tenantID, ev)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAck(res))
}

// HandleSessionReady handles POST /api/v1/webhook/calls/session-ready
func (h *Handler) HandleSessionReady(c *gin.Context) {
	tenantID, ok := webhookTenant(c)
	if !ok {
		return
	}
	payload, ok := decodeBody(c)
	if !ok {
		return
	}

	res, err := h.svc.HandleSessionReady(c.Request.Context(), tenantID, h.norm.NormalizeSessionReady(payload, h.now()))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAck(res))
}

// List handles GET /api/v1/calls
func (h *Handler) List(c *gin.Context) {
	var req transport.ListCallsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	calls, err := h.svc.ListRecent(c.Request.Context(), tenantID, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.CallResponse, 0, len(calls))
	for _, call := range calls {
		items = append(items, transport.ToCallResponse(call))
	}
	httpkit.OK(c, gin.H{"items": items})
}

// GetByID handles GET /api/v1/calls/:id
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid call ID", nil)
		return
	}

	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	call, err := h.svc.GetCall(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToCallResponse(call))
}

func webhookTenant(c *gin.Context) (uuid.UUID, bool) {
	tenantID, ok := webhook.TenantFromContext(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "missing tenant context", nil)
		return uuid.Nil, false
	}
	return tenantID, true
}

func decodeBody(c *gin.Context) (normalizer.Payload, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "request body too large or unreadable", nil)
		return nil, false
	}
	payload, err := normalizer.Decode(body)
	if err != nil {
		httpkit.HandleError(c, err)
		return nil, false
	}
	return payload, true
}

// respondError keeps not-found as a 404 JSON body and hides internal detail.
func respondError(c *gin.Context, err error) {
	if apperr.Is(err, apperr.KindNotFound) {
		httpkit.Error(c, http.StatusNotFound, "call not found", nil)
		return
	}
	httpkit.HandleError(c, err)
}

func toAck(res service.Result) transport.EventAck {
	if res.Outcome == domain.OutcomeIgnored {
		return transport.EventAck{Status: transport.AckIgnored}
	}
	return transport.EventAck{
		Status:     transport.AckOK,
		Outcome:    string(res.Outcome),
		CallID:     res.CallID,
		CallStatus: string(res.Status),
	}
}
