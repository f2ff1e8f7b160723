package handlers

import (
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

// OrganizationHandler manages tenant onboarding and lifecycle.
type OrganizationHandler struct {
	db    *gorm.DB
	store *quota.Store
}

// NewOrganizationHandler constructs an OrganizationHandler.
func NewOrganizationHandler(db *gorm.DB, store *quota.Store) *OrganizationHandler {
	return &OrganizationHandler{db: db, store: store}
}

// createOrganizationRequest defines the onboarding request body.
type createOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
	Tier string `json:"tier"`
}

// Create onboards an organization and provisions its default quota record in
// the same step, so a new tenant is immediately governed.
func (h *OrganizationHandler) Create(c *gin.Context) {
	var req createOrganizationRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	name := strings.TrimSpace(req.Name)
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if name == "" || slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and slug are required"})
		return
	}
	tier := quota.NormalizeTier(req.Tier)
	if req.Tier != "" && !quota.ValidTier(tier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
		return
	}
	if tier == "" {
		tier = quota.TierFree
	}

	ctx := c.Request.Context()
	org := models.Organization{Name: name, Slug: slug, IsEnabled: true}
	if errCreate := h.db.WithContext(ctx).Create(&org).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "slug already in use"})
			return
		}
		log.WithError(errCreate).Error("organization handler: create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create organization failed"})
		return
	}

	quotaRow, errEnsure := h.store.EnsureForOrganization(ctx, org.ID, tier)
	if errEnsure != nil {
		log.WithError(errEnsure).Error("organization handler: provision quota failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provision quota failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"organization": organizationJSON(org),
		"quota":        quotaJSON(quotaRow),
	})
}

// organizationListQuery defines filters for the organization list view.
type organizationListQuery struct {
	Page  int    `form:"page,default=1"`   // Page number.
	Limit int    `form:"limit,default=20"` // Page size.
	Name  string `form:"name"`             // Name filter.
}

// List returns organizations with paging and an optional name filter.
func (h *OrganizationHandler) List(c *gin.Context) {
	var q organizationListQuery
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
	base := h.db.WithContext(ctx).Model(&models.Organization{})
	if name := strings.TrimSpace(q.Name); name != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+name+"%")
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "name"), pattern)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count organizations failed"})
		return
	}

	var rows []models.Organization
	offset := (q.Page - 1) * q.Limit
	if errFind := base.Order("id ASC").Offset(offset).Limit(q.Limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list organizations failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, organizationJSON(row))
	}
	c.JSON(http.StatusOK, gin.H{
		"organizations": out,
		"total":         total,
		"page":          q.Page,
		"limit":         q.Limit,
	})
}

// setEnabledRequest toggles tenant availability.
type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled toggles whether a tenant is active.
func (h *OrganizationHandler) SetEnabled(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization id"})
		return
	}
	var req setEnabledRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Model(&models.Organization{}).
		Where("id = ?", id).
		Update("is_enabled", *req.Enabled)
	if res.Error != nil {
		log.WithError(res.Error).Error("organization handler: set enabled failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update organization failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Get returns one organization with its organization-level quota record.
func (h *OrganizationHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization id"})
		return
	}

	ctx := c.Request.Context()
	var org models.Organization
	errFind := h.db.WithContext(ctx).First(&org, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}
	if errFind != nil {
		log.WithError(errFind).Error("organization handler: get failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get organization failed"})
		return
	}

	out := gin.H{"organization": organizationJSON(org)}
	quotaRow, errResolve := h.store.Resolve(ctx, org.ID, nil)
	if errResolve == nil {
		out["quota"] = quotaJSON(quotaRow)
	} else if !errors.Is(errResolve, quota.ErrQuotaNotFound) {
		log.WithError(errResolve).Warn("organization handler: resolve quota failed")
	}
	c.JSON(http.StatusOK, out)
}

func organizationJSON(org models.Organization) gin.H {
	return gin.H{
		"id":         org.ID,
		"name":       org.Name,
		"slug":       org.Slug,
		"is_enabled": org.IsEnabled,
		"created_at": org.CreatedAt,
	}
}
