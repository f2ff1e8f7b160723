package handlers

import (
	"errors"
	"net/http"

	"github.com/taskfoundry/aigov/internal/quota"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// UsageHandler accepts post-operation usage reports.
type UsageHandler struct {
	store    *quota.Store
	recorder *quota.Recorder
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(store *quota.Store, recorder *quota.Recorder) *UsageHandler {
	return &UsageHandler{store: store, recorder: recorder}
}

// usageRequest is the usage report body. QuotaID comes from a prior
// authorize response.
type usageRequest struct {
	QuotaID      uint64  `json:"quota_id" binding:"required"`
	UserID       *uint64 `json:"user_id"`
	Outcome      string  `json:"outcome" binding:"required"`
	TokensUsed   int64   `json:"tokens_used"`
	CostMicros   int64   `json:"cost_micros"`
	AgentKind    string  `json:"agent_kind"`
	DecisionKind string  `json:"decision_kind"`
}

// Record applies a usage report to the caller's quota scope. It returns 202:
// once the operation already ran, accounting problems are alerted and
// retried internally rather than surfaced to the executor.
func (h *UsageHandler) Record(c *gin.Context) {
	organizationID := organizationIDFrom(c)
	if organizationID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant scope"})
		return
	}

	var req usageRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	row, errGet := h.store.Get(ctx, req.QuotaID)
	if errGet != nil {
		if errors.Is(errGet, quota.ErrQuotaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "quota not found"})
			return
		}
		log.WithError(errGet).Error("usage handler: quota lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "accounting service error"})
		return
	}
	// Keys are tenant-bound; reject reports against another tenant's quota.
	if row.OrganizationID != organizationID {
		c.JSON(http.StatusForbidden, gin.H{"error": "quota belongs to another organization"})
		return
	}

	auth := &quota.Authorization{
		QuotaID:        row.ID,
		OrganizationID: row.OrganizationID,
		UserID:         req.UserID,
		Tier:           row.Tier,
	}
	errRecord := h.recorder.Record(ctx, auth, req.Outcome, req.TokensUsed, req.CostMicros, req.AgentKind, req.DecisionKind)
	if errRecord != nil {
		if quota.IsValidation(errRecord) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errRecord.Error(), "code": "validation"})
			return
		}
		log.WithError(errRecord).Error("usage handler: record failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "accounting service error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}
