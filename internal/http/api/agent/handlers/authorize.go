package handlers

import (
	"net/http"

	"github.com/taskfoundry/aigov/internal/decisionlog"
	"github.com/taskfoundry/aigov/internal/quota"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AuthorizeHandler gates metered agent work.
type AuthorizeHandler struct {
	gate      *quota.Gate
	decisions *decisionlog.Log
}

// NewAuthorizeHandler constructs an AuthorizeHandler.
func NewAuthorizeHandler(gate *quota.Gate, decisions *decisionlog.Log) *AuthorizeHandler {
	return &AuthorizeHandler{gate: gate, decisions: decisions}
}

// authorizeRequest is the authorize request body.
type authorizeRequest struct {
	UserID    *uint64 `json:"user_id"`    // Optional acting user.
	AgentKind string  `json:"agent_kind"` // Agent requesting the work.
}

// Authorize checks availability and quota for the key's tenant. Denied
// attempts are still appended to the decision log so audit trails cover work
// that never ran.
func (h *AuthorizeHandler) Authorize(c *gin.Context) {
	organizationID := organizationIDFrom(c)
	if organizationID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing tenant scope"})
		return
	}

	var req authorizeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	auth, errAuthorize := h.gate.Authorize(ctx, organizationID, req.UserID)
	if errAuthorize == nil {
		c.JSON(http.StatusOK, gin.H{
			"authorization": gin.H{
				"quota_id":        auth.QuotaID,
				"organization_id": auth.OrganizationID,
				"user_id":         auth.UserID,
				"tier":            auth.Tier,
				"granted_at":      auth.GrantedAt,
			},
		})
		return
	}

	switch {
	case quota.IsAIDisabled(errAuthorize):
		h.appendDenied(c, organizationID, req, errAuthorize.Error())
		c.JSON(http.StatusForbidden, gin.H{"error": errAuthorize.Error(), "code": "ai_disabled"})
	case quota.IsQuotaExceeded(errAuthorize):
		h.appendDenied(c, organizationID, req, errAuthorize.Error())
		c.JSON(http.StatusTooManyRequests, gin.H{"error": errAuthorize.Error(), "code": "quota_exceeded"})
	case quota.IsValidation(errAuthorize):
		c.JSON(http.StatusBadRequest, gin.H{"error": errAuthorize.Error(), "code": "validation"})
	default:
		log.WithError(errAuthorize).Error("authorize handler: gate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization service error"})
	}
}

// appendDenied records the blocked attempt; failures here must not mask the
// authorization verdict.
func (h *AuthorizeHandler) appendDenied(c *gin.Context, organizationID uint64, req authorizeRequest, reason string) {
	agentKind := req.AgentKind
	if agentKind == "" {
		agentKind = "unknown"
	}
	if _, errAppend := h.decisions.AppendDenied(c.Request.Context(), organizationID, req.UserID, agentKind, reason); errAppend != nil {
		log.WithError(errAppend).Warn("authorize handler: append denied entry failed")
	}
}
