// Package agent exposes the executor-facing API: the availability gate,
// usage reporting, and the decision and execution logs. All routes require a
// tenant-bound agent key.
package agent

import (
	"github.com/taskfoundry/aigov/internal/decisionlog"
	"github.com/taskfoundry/aigov/internal/executionlog"
	apihttp "github.com/taskfoundry/aigov/internal/http"
	"github.com/taskfoundry/aigov/internal/http/api/agent/handlers"
	"github.com/taskfoundry/aigov/internal/quota"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries the components the agent API serves.
type Deps struct {
	DB         *gorm.DB
	Store      *quota.Store
	Gate       *quota.Gate
	Recorder   *quota.Recorder
	Decisions  *decisionlog.Log
	Executions *executionlog.Log
}

// RegisterRoutes mounts the agent API under /v1.
func RegisterRoutes(engine *gin.Engine, deps Deps) {
	authorize := handlers.NewAuthorizeHandler(deps.Gate, deps.Decisions)
	usage := handlers.NewUsageHandler(deps.Store, deps.Recorder)
	decisions := handlers.NewDecisionHandler(deps.Decisions)
	executions := handlers.NewExecutionHandler(deps.Executions)

	v1 := engine.Group("/v1")
	v1.Use(apihttp.AgentKeyAuthMiddleware(deps.DB))
	{
		v1.POST("/authorize", authorize.Authorize)
		v1.POST("/usage", usage.Record)
		v1.POST("/decisions", decisions.Append)
		v1.POST("/executions", executions.Begin)
		v1.POST("/executions/:id/finish", executions.Finish)
	}
}
