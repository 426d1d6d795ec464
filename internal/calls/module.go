// Package calls provides the call session bounded context: webhook ingress,
// the session registry, the correlation buffer and the dashboard read API.
package calls

import (
	"agency_calls_backend/internal/calls/handler"
	"agency_calls_backend/internal/calls/normalizer"
	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/internal/calls/repository"
	"agency_calls_backend/internal/calls/service"
	"agency_calls_backend/internal/events"
	apphttp "agency_calls_backend/internal/http"
	"agency_calls_backend/internal/transcripts"
	"agency_calls_backend/platform/logger"
	"agency_calls_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the calls domain module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the calls module with all dependencies wired.
func NewModule(pool *pgxpool.Pool, norm *normalizer.Normalizer, directory ports.Directory, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, directory, eventBus, transcripts.DefaultSchedule(), log)
	return &Module{
		handler: handler.New(svc, norm, val),
		service: svc,
	}
}

// Service exposes the registry for composition (capture wiring, purge task).
func (m *Module) Service() *service.Service {
	return m.service
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "calls"
}

// RegisterRoutes mounts webhooks under /api/v1/webhook/calls and the read
// API under /api/v1/calls.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterWebhookRoutes(ctx.Webhook.Group("/calls"))
	m.handler.RegisterRoutes(ctx.Protected.Group("/calls"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
