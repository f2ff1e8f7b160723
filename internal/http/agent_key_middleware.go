package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/taskfoundry/aigov/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Context keys set by the agent key middleware.
const (
	// ContextAgentKeyID carries the authenticated key's row ID.
	ContextAgentKeyID = "agentKeyID"
	// ContextOrganizationID carries the tenant the key is bound to.
	ContextOrganizationID = "organizationID"
)

// AgentKeyAuthMiddleware authenticates agent executors by bearer key and
// injects the key's tenant scope. Keys are tenant-bound; a request can never
// act on another organization's quota or logs.
func AgentKeyAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAgentKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}

		var row models.AgentKey
		errFind := db.WithContext(c.Request.Context()).
			Where("key = ? AND is_enabled = ?", key, true).
			First(&row).Error
		if errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				return
			}
			log.WithError(errFind).Error("agent key middleware: lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication service error"})
			return
		}

		now := time.Now().UTC()
		if errTouch := db.WithContext(c.Request.Context()).
			Model(&models.AgentKey{}).
			Where("id = ?", row.ID).
			Update("last_used_at", now).Error; errTouch != nil {
			log.WithError(errTouch).Warn("agent key middleware: update last_used_at failed")
		}

		c.Set(ContextAgentKeyID, row.ID)
		c.Set(ContextOrganizationID, row.OrganizationID)
		c.Next()
	}
}

// extractAgentKey reads the credential from Authorization: Bearer or
// X-Api-Key.
func extractAgentKey(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(c.GetHeader("X-Api-Key"))
}

// OrganizationIDFromContext returns the tenant scope injected by the agent
// key middleware.
func OrganizationIDFromContext(c *gin.Context) uint64 {
	val, exists := c.Get(ContextOrganizationID)
	if !exists {
		return 0
	}
	id, ok := val.(uint64)
	if !ok {
		return 0
	}
	return id
}
