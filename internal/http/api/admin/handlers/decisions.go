package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/taskfoundry/aigov/internal/decisionlog"
	"github.com/taskfoundry/aigov/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// DecisionHandler serves the decision log to the management surface.
type DecisionHandler struct {
	decisions *decisionlog.Log
}

// NewDecisionHandler constructs a DecisionHandler.
func NewDecisionHandler(decisions *decisionlog.Log) *DecisionHandler {
	return &DecisionHandler{decisions: decisions}
}

// decisionListQuery defines filters for the decision list view.
type decisionListQuery struct {
	OrganizationID uint64 `form:"organization_id"`
	UserID         uint64 `form:"user_id"`
	AgentKind      string `form:"agent_kind"`
	DecisionKind   string `form:"decision_kind"`
	Status         string `form:"status"`
	From           string `form:"from"` // RFC 3339.
	To             string `form:"to"`   // RFC 3339.
	Limit          int    `form:"limit,default=50"`
	Cursor         string `form:"cursor"`
}

// filters converts the bound query into log filters.
func (q decisionListQuery) filters() decisionlog.QueryFilters {
	filters := decisionlog.QueryFilters{
		OrganizationID: q.OrganizationID,
		AgentKind:      q.AgentKind,
		DecisionKind:   q.DecisionKind,
		Status:         q.Status,
		Limit:          q.Limit,
		Cursor:         q.Cursor,
	}
	if q.UserID != 0 {
		userID := q.UserID
		filters.UserID = &userID
	}
	if parsed, errParse := time.Parse(time.RFC3339, q.From); errParse == nil {
		filters.From = parsed.UTC()
	}
	if parsed, errParse := time.Parse(time.RFC3339, q.To); errParse == nil {
		filters.To = parsed.UTC()
	}
	return filters
}

// List returns one page of decisions plus the cursor for the next page.
func (h *DecisionHandler) List(c *gin.Context) {
	var q decisionListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	page, errQuery := h.decisions.Query(c.Request.Context(), q.filters())
	if errQuery != nil {
		if decisionlog.IsValidation(errQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errQuery.Error()})
			return
		}
		log.WithError(errQuery).Error("decision handler: query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list decisions failed"})
		return
	}

	out := make([]gin.H, 0, len(page.Entries))
	for i := range page.Entries {
		out = append(out, decisionJSON(&page.Entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"decisions":   out,
		"next_cursor": page.NextCursor,
	})
}

// Get returns one decision entry.
func (h *DecisionHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision id"})
		return
	}
	row, errGet := h.decisions.Get(c.Request.Context(), id)
	if errGet != nil {
		if errors.Is(errGet, decisionlog.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		log.WithError(errGet).Error("decision handler: get failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get decision failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decisionJSON(row)})
}

// ExportCSV streams matching decisions as a CSV attachment.
func (h *DecisionHandler) ExportCSV(c *gin.Context) {
	var q decisionListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	filters := q.filters()
	filters.Limit = 0
	filters.Cursor = ""

	filename := fmt.Sprintf("decisions-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)

	if errExport := h.decisions.ExportCSV(c.Request.Context(), c.Writer, filters); errExport != nil {
		// Headers are already out; log instead of switching to a JSON error
		// mid-stream.
		log.WithError(errExport).Error("decision handler: export failed")
	}
}

// resolveApprovalRequest resolves a pending approval.
type resolveApprovalRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

// ResolveApproval approves or rejects a decision awaiting approval. Only
// pending entries can be resolved; everything else on the row stays
// immutable.
func (h *DecisionHandler) ResolveApproval(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision id"})
		return
	}
	var req resolveApprovalRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.Approved == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approved is required"})
		return
	}

	errResolve := h.decisions.ResolveApproval(c.Request.Context(), id, *req.Approved)
	switch {
	case errResolve == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(errResolve, decisionlog.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
	case errors.Is(errResolve, decisionlog.ErrNotAwaitingApproval):
		c.JSON(http.StatusConflict, gin.H{"error": "decision is not awaiting approval"})
	default:
		log.WithError(errResolve).Error("decision handler: resolve approval failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve approval failed"})
	}
}

func decisionJSON(row *models.Decision) gin.H {
	return gin.H{
		"id":                   row.ID,
		"organization_id":      row.OrganizationID,
		"user_id":              row.UserID,
		"agent_kind":           row.AgentKind,
		"decision_kind":        row.DecisionKind,
		"status":               row.Status,
		"success":              row.Success,
		"summary":              row.Summary,
		"tokens_used":          row.TokensUsed,
		"cost_micros":          row.CostMicros,
		"correlation_id":       row.CorrelationID,
		"payload":              row.Payload,
		"requires_approval":    row.RequiresApproval,
		"approval_state":       row.ApprovalState,
		"approval_resolved_at": row.ApprovalResolvedAt,
		"occurred_at":          row.OccurredAt,
	}
}
