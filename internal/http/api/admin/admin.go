// Package admin exposes the management API: tenant onboarding, quota
// administration, usage reports, audit log views, agent keys, and runtime
// settings. All routes except login and health require an admin JWT.
package admin

import (
	"github.com/taskfoundry/aigov/internal/config"
	"github.com/taskfoundry/aigov/internal/decisionlog"
	apihttp "github.com/taskfoundry/aigov/internal/http"
	"github.com/taskfoundry/aigov/internal/http/api/admin/handlers"
	"github.com/taskfoundry/aigov/internal/quota"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the components the admin API serves.
type Deps struct {
	DB        *gorm.DB
	JWT       config.JWTConfig
	Store     *quota.Store
	Decisions *decisionlog.Log
}

// RegisterRoutes mounts the admin API under /admin.
func RegisterRoutes(engine *gin.Engine, deps Deps) {
	auth := handlers.NewAuthHandler(deps.DB, deps.JWT)
	organizations := handlers.NewOrganizationHandler(deps.DB, deps.Store)
	quotas := handlers.NewQuotaHandler(deps.DB, deps.Store)
	usage := handlers.NewUsageReportHandler(deps.DB, deps.Store)
	decisions := handlers.NewDecisionHandler(deps.Decisions)
	executions := handlers.NewExecutionHandler(deps.DB)
	keys := handlers.NewAgentKeyHandler(deps.DB)
	settings := handlers.NewSettingsHandler(deps.DB)
	health := handlers.NewHealthHandler(deps.DB)

	engine.GET("/healthz", health.Healthz)

	group := engine.Group("/admin")
	group.POST("/login", auth.Login)

	authed := group.Group("")
	authed.Use(apihttp.AdminAuthMiddleware(deps.JWT.Secret))
	{
		authed.POST("/organizations", organizations.Create)
		authed.GET("/organizations", organizations.List)
		authed.GET("/organizations/:id", organizations.Get)
		authed.PUT("/organizations/:id/enabled", organizations.SetEnabled)

		authed.GET("/quotas", quotas.List)
		authed.GET("/quotas/:id", quotas.Get)
		authed.PUT("/quotas/:id/tier", quotas.UpdateTier)
		authed.PUT("/quotas/:id/active", quotas.SetActive)
		authed.POST("/quotas/overrides", quotas.CreateOverride)
		authed.DELETE("/quotas/overrides/:org_id/:user_id", quotas.RemoveOverride)

		authed.GET("/usage/report", usage.Report)

		authed.GET("/decisions", decisions.List)
		authed.GET("/decisions/export", decisions.ExportCSV)
		authed.GET("/decisions/:id", decisions.Get)
		authed.PUT("/decisions/:id/approval", decisions.ResolveApproval)

		authed.GET("/executions", executions.List)

		authed.POST("/agent-keys", keys.Create)
		authed.GET("/agent-keys", keys.List)
		authed.PUT("/agent-keys/:id/enabled", keys.SetEnabled)

		authed.GET("/settings", settings.List)
		authed.PUT("/settings", settings.Update)
	}
}
