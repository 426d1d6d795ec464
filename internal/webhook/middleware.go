package webhook

import (
	"context"
	"net/http"

	"agency_calls_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderAPIKey carries the plaintext webhook key.
	HeaderAPIKey = "X-Webhook-API-Key"

	ContextTenantIDKey = "webhookTenantID"
	ContextKeyIDKey    = "webhookKeyID"
	ContextSourceKey   = "webhookSource"
)

// APIKeyAuthMiddleware validates the X-Webhook-API-Key header
// and sets the tenant context on the gin context.
func APIKeyAuthMiddleware(keys KeyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		key, err := keys.GetByHash(c.Request.Context(), HashKey(apiKey))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(ContextTenantIDKey, key.TenantID)
		c.Set(ContextKeyIDKey, key.ID)
		c.Set(ContextSourceKey, key.Source)

		ctx := context.WithValue(c.Request.Context(), logger.TenantIDKey, key.TenantID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TenantFromContext returns the tenant resolved by APIKeyAuthMiddleware.
func TenantFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextTenantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
