package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/taskfoundry/aigov/internal/executionlog"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ExecutionHandler tracks agent execution lifecycles.
type ExecutionHandler struct {
	executions *executionlog.Log
}

// NewExecutionHandler constructs an ExecutionHandler.
func NewExecutionHandler(executions *executionlog.Log) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// beginRequest opens an execution record.
type beginRequest struct {
	AgentKind     string `json:"agent_kind" binding:"required"`
	CorrelationID string `json:"correlation_id"`
}

// finishRequest closes an execution record.
type finishRequest struct {
	Outcome    string  `json:"outcome" binding:"required"`
	DecisionID *uint64 `json:"decision_id"`
}

// Begin opens an execution in the running state for the caller's tenant.
func (h *ExecutionHandler) Begin(c *gin.Context) {
	organizationID := organizationIDFrom(c)
	if organizationID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant scope"})
		return
	}

	var req beginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	row, errBegin := h.executions.Begin(c.Request.Context(), organizationID, req.AgentKind, req.CorrelationID)
	if errBegin != nil {
		log.WithError(errBegin).Error("execution handler: begin failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "execution log error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":             row.ID,
		"correlation_id": row.CorrelationID,
		"started_at":     row.StartedAt,
	})
}

// Finish closes a running execution with its outcome. Finishing a record
// twice, or one owned by another tenant, is rejected.
func (h *ExecutionHandler) Finish(c *gin.Context) {
	organizationID := organizationIDFrom(c)
	if organizationID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant scope"})
		return
	}

	executionID, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || executionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}

	var req finishRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	row, errGet := h.executions.Get(ctx, executionID)
	if errGet != nil {
		if errors.Is(errGet, executionlog.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		log.WithError(errGet).Error("execution handler: lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "execution log error"})
		return
	}
	if row.OrganizationID != organizationID {
		c.JSON(http.StatusForbidden, gin.H{"error": "execution belongs to another organization"})
		return
	}

	errFinish := h.executions.Finish(ctx, executionID, req.Outcome, req.DecisionID)
	switch {
	case errFinish == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(errFinish, executionlog.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
	case errors.Is(errFinish, executionlog.ErrAlreadyFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "execution already finished"})
	case errors.Is(errFinish, executionlog.ErrInvalidOutcome):
		c.JSON(http.StatusBadRequest, gin.H{"error": errFinish.Error()})
	default:
		log.WithError(errFinish).Error("execution handler: finish failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "execution log error"})
	}
}
