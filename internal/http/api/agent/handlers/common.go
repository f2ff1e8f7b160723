package handlers

import (
	apihttp "github.com/taskfoundry/aigov/internal/http"

	"github.com/gin-gonic/gin"
)

// organizationIDFrom returns the tenant scope injected by the agent key
// middleware, or zero when the request is unauthenticated.
func organizationIDFrom(c *gin.Context) uint64 {
	return apihttp.OrganizationIDFromContext(c)
}
