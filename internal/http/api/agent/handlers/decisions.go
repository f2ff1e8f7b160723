package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/taskfoundry/aigov/internal/decisionlog"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// DecisionHandler appends decision entries reported by agent executors.
type DecisionHandler struct {
	decisions *decisionlog.Log
}

// NewDecisionHandler constructs a DecisionHandler.
func NewDecisionHandler(decisions *decisionlog.Log) *DecisionHandler {
	return &DecisionHandler{decisions: decisions}
}

// decisionRequest is the append body for one decision entry.
type decisionRequest struct {
	UserID           *uint64         `json:"user_id"`
	AgentKind        string          `json:"agent_kind" binding:"required"`
	DecisionKind     string          `json:"decision_kind" binding:"required"`
	Status           string          `json:"status" binding:"required"`
	Success          bool            `json:"success"`
	Summary          string          `json:"summary"`
	TokensUsed       int64           `json:"tokens_used"`
	CostMicros       int64           `json:"cost_micros"`
	CorrelationID    string          `json:"correlation_id"`
	Payload          json.RawMessage `json:"payload"`
	RequiresApproval bool            `json:"requires_approval"`
	OccurredAt       *time.Time      `json:"occurred_at"`
}

// Append writes one decision entry for the caller's tenant and returns its
// ID and correlation ID.
func (h *DecisionHandler) Append(c *gin.Context) {
	organizationID := organizationIDFrom(c)
	if organizationID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant scope"})
		return
	}

	var req decisionRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	entry := decisionlog.Entry{
		OrganizationID:   organizationID,
		UserID:           req.UserID,
		AgentKind:        strings.TrimSpace(req.AgentKind),
		DecisionKind:     strings.TrimSpace(req.DecisionKind),
		Status:           strings.TrimSpace(req.Status),
		Success:          req.Success,
		Summary:          req.Summary,
		TokensUsed:       req.TokensUsed,
		CostMicros:       req.CostMicros,
		CorrelationID:    strings.TrimSpace(req.CorrelationID),
		Payload:          req.Payload,
		RequiresApproval: req.RequiresApproval,
	}
	if req.OccurredAt != nil {
		entry.OccurredAt = req.OccurredAt.UTC()
	}

	id, errAppend := h.decisions.Append(c.Request.Context(), entry)
	if errAppend != nil {
		if decisionlog.IsValidation(errAppend) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errAppend.Error(), "code": "validation"})
			return
		}
		log.WithError(errAppend).Error("decision handler: append failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decision log error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}
