// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"agency_calls_backend/internal/events"
	"agency_calls_backend/platform/config"
	"agency_calls_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
	config.WebhookConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the router configuration (HTTP, JWT and webhook settings).
	Config RouterConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness/health checks (e.g., DB ping).
	Health HealthChecker
	// EventBus is the domain event bus for cross-module communication.
	EventBus events.Bus
	// WebhookAuth authenticates inbound telephony webhooks and resolves the tenant.
	WebhookAuth gin.HandlerFunc
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
