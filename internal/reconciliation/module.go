package reconciliation

import (
	"context"
	"net/http"

	apphttp "agency_calls_backend/internal/http"
	"agency_calls_backend/platform/apperr"
	"agency_calls_backend/platform/httpkit"
	"agency_calls_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditTrigger queues an audit outside the nightly schedule.
type AuditTrigger interface {
	EnqueueAudit(ctx context.Context, tenantID uuid.UUID) error
}

// Module exposes the manual audit trigger to tenant admins.
type Module struct {
	trigger AuditTrigger
	log     *logger.Logger
}

func NewModule(trigger AuditTrigger, log *logger.Logger) *Module {
	return &Module{trigger: trigger, log: log}
}

func (m *Module) Name() string { return "reconciliation" }

// RegisterRoutes mounts POST /api/v1/admin/reconciliation/run.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.POST("/reconciliation/run", m.handleRun)
}

// handleRun queues the audit. A digest already sent today is not repeated.
func (m *Module) handleRun(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	if err := m.trigger.EnqueueAudit(c.Request.Context(), tenantID); err != nil {
		m.log.Warn("manual audit not queued", "tenant_id", tenantID, "error", err)
		httpkit.HandleError(c, apperr.Unavailable("audit could not be queued", err).WithOp("reconciliation.run"))
		return
	}
	httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
