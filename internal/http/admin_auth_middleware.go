package http

import (
	"net/http"
	"strings"

	"github.com/taskfoundry/aigov/internal/security"

	"github.com/gin-gonic/gin"
)

// ContextAdminID carries the authenticated admin's row ID.
const ContextAdminID = "adminID"

// AdminAuthMiddleware validates the admin JWT and injects the admin identity.
func AdminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return
		}

		claims, errParse := security.ParseAdminToken(secret, strings.TrimSpace(parts[1]))
		if errParse != nil {
			status := http.StatusUnauthorized
			message := "Invalid token"
			if errParse == security.ErrExpiredToken {
				message = "Token expired"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": message})
			return
		}

		c.Set(ContextAdminID, claims.AdminID)
		c.Next()
	}
}
