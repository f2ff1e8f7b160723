package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	dbutil "github.com/taskfoundry/aigov/internal/db"
	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/quota"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// QuotaHandler handles admin quota endpoints.
type QuotaHandler struct {
	db    *gorm.DB
	store *quota.Store
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(db *gorm.DB, store *quota.Store) *QuotaHandler {
	return &QuotaHandler{db: db, store: store}
}

// quotaListQuery defines filters for the quota list view.
type quotaListQuery struct {
	Page           int    `form:"page,default=1"`   // Page number.
	Limit          int    `form:"limit,default=20"` // Page size.
	OrganizationID uint64 `form:"organization_id"`  // Tenant filter.
	Tier           string `form:"tier"`             // Tier filter.
	Exceeded       string `form:"exceeded"`         // "true" or "false".
	Scope          string `form:"scope"`            // "organization" or "user".
}

// List returns quota records with paging and filters.
func (h *QuotaHandler) List(c *gin.Context) {
	var q quotaListQuery
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

	ctx := c.Request.Context()
	base := h.db.WithContext(ctx).Model(&models.Quota{})
	if q.OrganizationID != 0 {
		base = base.Where("organization_id = ?", q.OrganizationID)
	}
	if tier := quota.NormalizeTier(q.Tier); strings.TrimSpace(q.Tier) != "" {
		base = base.Where("tier = ?", tier)
	}
	switch strings.ToLower(strings.TrimSpace(q.Exceeded)) {
	case "true":
		base = base.Where("quota_exceeded = ?", true)
	case "false":
		base = base.Where("quota_exceeded = ?", false)
	}
	switch strings.ToLower(strings.TrimSpace(q.Scope)) {
	case "organization":
		base = base.Where("user_id IS NULL")
	case "user":
		base = base.Where("user_id IS NOT NULL")
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count quotas failed"})
		return
	}

	var rows []models.Quota
	offset := (q.Page - 1) * q.Limit
	if errFind := base.Order("organization_id ASC, id ASC").Offset(offset).Limit(q.Limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list quotas failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, quotaJSON(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"quotas": out,
		"total":  total,
		"page":   q.Page,
		"limit":  q.Limit,
	})
}

// Get returns one quota record.
func (h *QuotaHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quota id"})
		return
	}
	row, errGet := h.store.Get(c.Request.Context(), id)
	if errGet != nil {
		if errors.Is(errGet, quota.ErrQuotaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "quota not found"})
			return
		}
		log.WithError(errGet).Error("quota handler: get failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get quota failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": quotaJSON(row)})
}

// updateTierRequest changes a quota's tier, with explicit limits for the
// custom tier.
type updateTierRequest struct {
	Tier          string `json:"tier" binding:"required"`
	MaxRequests   *int64 `json:"max_requests"`
	MaxTokens     *int64 `json:"max_tokens"`
	MaxCostMicros *int64 `json:"max_cost_micros"`
}

// UpdateTier changes the tier of one quota record. Stock tiers carry their
// own limits; the custom tier requires all three.
func (h *QuotaHandler) UpdateTier(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quota id"})
		return
	}
	var req updateTierRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var custom *quota.TierLimits
	if req.MaxRequests != nil || req.MaxTokens != nil || req.MaxCostMicros != nil {
		if req.MaxRequests == nil || req.MaxTokens == nil || req.MaxCostMicros == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "custom limits require max_requests, max_tokens, and max_cost_micros"})
			return
		}
		custom = &quota.TierLimits{
			MaxRequests:   *req.MaxRequests,
			MaxTokens:     *req.MaxTokens,
			MaxCostMicros: *req.MaxCostMicros,
		}
	}

	errUpdate := h.store.UpdateTier(c.Request.Context(), id, req.Tier, custom)
	switch {
	case errUpdate == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(errUpdate, quota.ErrQuotaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "quota not found"})
	case quota.IsValidation(errUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": errUpdate.Error()})
	default:
		log.WithError(errUpdate).Error("quota handler: update tier failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update tier failed"})
	}
}

// setActiveRequest toggles AI availability for a scope.
type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive toggles the is_active flag of one quota record.
func (h *QuotaHandler) SetActive(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quota id"})
		return
	}
	var req setActiveRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}

	errSet := h.store.SetActive(c.Request.Context(), id, *req.Active)
	switch {
	case errSet == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(errSet, quota.ErrQuotaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "quota not found"})
	default:
		log.WithError(errSet).Error("quota handler: set active failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "set active failed"})
	}
}

// createOverrideRequest provisions a user-level override.
type createOverrideRequest struct {
	OrganizationID uint64 `json:"organization_id" binding:"required"`
	UserID         uint64 `json:"user_id" binding:"required"`
	Tier           string `json:"tier" binding:"required"`
}

// CreateOverride creates a user-level override record inside an organization.
func (h *QuotaHandler) CreateOverride(c *gin.Context) {
	var req createOverrideRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	row, errCreate := h.store.CreateUserOverride(c.Request.Context(), req.OrganizationID, req.UserID, req.Tier)
	if errCreate != nil {
		if quota.IsValidation(errCreate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errCreate.Error()})
			return
		}
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "override already exists"})
			return
		}
		log.WithError(errCreate).Error("quota handler: create override failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create override failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"quota": quotaJSON(row)})
}

// RemoveOverride deletes a user-level override so the user falls back to the
// organization record.
func (h *QuotaHandler) RemoveOverride(c *gin.Context) {
	organizationID, errOrg := strconv.ParseUint(c.Param("org_id"), 10, 64)
	userID, errUser := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if errOrg != nil || errUser != nil || organizationID == 0 || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid override scope"})
		return
	}

	errRemove := h.store.RemoveUserOverride(c.Request.Context(), organizationID, userID)
	switch {
	case errRemove == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(errRemove, quota.ErrQuotaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "override not found"})
	default:
		log.WithError(errRemove).Error("quota handler: remove override failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove override failed"})
	}
}

// quotaJSON renders one quota record, decoding the breakdown columns into
// maps for the management surface.
func quotaJSON(row *models.Quota) gin.H {
	agentBreakdown := map[string]int64{}
	if len(row.AgentBreakdown) > 0 {
		if errDecode := json.Unmarshal(row.AgentBreakdown, &agentBreakdown); errDecode != nil {
			agentBreakdown = map[string]int64{}
		}
	}
	decisionBreakdown := map[string]int64{}
	if len(row.DecisionBreakdown) > 0 {
		if errDecode := json.Unmarshal(row.DecisionBreakdown, &decisionBreakdown); errDecode != nil {
			decisionBreakdown = map[string]int64{}
		}
	}

	return gin.H{
		"id":                 row.ID,
		"organization_id":    row.OrganizationID,
		"user_id":            row.UserID,
		"tier":               row.Tier,
		"is_active":          row.IsActive,
		"max_requests":       row.MaxRequests,
		"max_tokens":         row.MaxTokens,
		"max_cost_micros":    row.MaxCostMicros,
		"requests_used":      row.RequestsUsed,
		"tokens_used":        row.TokensUsed,
		"decisions_made":     row.DecisionsMade,
		"cost_micros_used":   row.CostMicrosUsed,
		"agent_breakdown":    agentBreakdown,
		"decision_breakdown": decisionBreakdown,
		"quota_exceeded":     row.QuotaExceeded,
		"period_days":        row.PeriodDays,
		"period_start":       row.PeriodStart,
		"period_end":         row.PeriodEnd,
		"updated_at":         row.UpdatedAt,
	}
}
