package handlers

import (
	"net/http"
	"strings"

	"github.com/taskfoundry/aigov/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ExecutionHandler serves the execution log to the management surface.
type ExecutionHandler struct {
	db *gorm.DB
}

// NewExecutionHandler constructs an ExecutionHandler.
func NewExecutionHandler(db *gorm.DB) *ExecutionHandler {
	return &ExecutionHandler{db: db}
}

// executionListQuery defines filters for the execution list view.
type executionListQuery struct {
	Page           int    `form:"page,default=1"`   // Page number.
	Limit          int    `form:"limit,default=20"` // Page size.
	OrganizationID uint64 `form:"organization_id"`  // Tenant filter.
	AgentKind      string `form:"agent_kind"`       // Agent kind filter.
	Outcome        string `form:"outcome"`          // Outcome filter.
}

// List returns executions with paging and filters, newest first.
func (h *ExecutionHandler) List(c *gin.Context) {
	var q executionListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	base := h.db.WithContext(c.Request.Context()).Model(&models.Execution{})
	if q.OrganizationID != 0 {
		base = base.Where("organization_id = ?", q.OrganizationID)
	}
	if kind := strings.TrimSpace(q.AgentKind); kind != "" {
		base = base.Where("agent_kind = ?", kind)
	}
	if outcome := strings.ToLower(strings.TrimSpace(q.Outcome)); outcome != "" {
		base = base.Where("outcome = ?", outcome)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count executions failed"})
		return
	}

	var rows []models.Execution
	offset := (q.Page - 1) * q.Limit
	if errFind := base.Order("started_at DESC, id DESC").Offset(offset).Limit(q.Limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list executions failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":              row.ID,
			"organization_id": row.OrganizationID,
			"agent_kind":      row.AgentKind,
			"outcome":         row.Outcome,
			"correlation_id":  row.CorrelationID,
			"decision_id":     row.DecisionID,
			"started_at":      row.StartedAt,
			"finished_at":     row.FinishedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": out,
		"total":      total,
		"page":       q.Page,
		"limit":      q.Limit,
	})
}
