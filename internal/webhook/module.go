package webhook

import (
	apphttp "agency_calls_backend/internal/http"
	"agency_calls_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook key module implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
}

// NewModule creates and initializes the webhook module with all its dependencies.
func NewModule(pool *pgxpool.Pool, val *validator.Validator) *Module {
	repo := NewRepository(pool)
	return &Module{
		handler: NewHandler(repo, val),
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// Repository exposes the key store for other modules (auth middleware, tenant listing).
func (m *Module) Repository() *Repository {
	return m.repo
}

// AuthMiddleware returns the API key middleware for inbound webhook routes.
func (m *Module) AuthMiddleware() gin.HandlerFunc {
	return APIKeyAuthMiddleware(m.repo)
}

// RegisterRoutes mounts the key administration routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	adminGroup := ctx.Admin.Group("/webhook/keys")
	adminGroup.POST("", m.handler.HandleCreateAPIKey)
	adminGroup.GET("", m.handler.HandleListAPIKeys)
	adminGroup.DELETE("/:keyId", m.handler.HandleRevokeAPIKey)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
