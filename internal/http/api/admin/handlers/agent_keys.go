package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/security"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AgentKeyHandler manages tenant-bound agent keys.
type AgentKeyHandler struct {
	db *gorm.DB
}

// NewAgentKeyHandler constructs an AgentKeyHandler.
func NewAgentKeyHandler(db *gorm.DB) *AgentKeyHandler {
	return &AgentKeyHandler{db: db}
}

// createAgentKeyRequest provisions a new agent key.
type createAgentKeyRequest struct {
	OrganizationID uint64 `json:"organization_id" binding:"required"`
	Name           string `json:"name" binding:"required"`
}

// Create generates a new agent key for a tenant. The plaintext key is only
// returned here; list responses never echo it.
func (h *AgentKeyHandler) Create(c *gin.Context) {
	var req createAgentKeyRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	ctx := c.Request.Context()
	var count int64
	if errCount := h.db.WithContext(ctx).Model(&models.Organization{}).
		Where("id = ?", req.OrganizationID).Count(&count).Error; errCount != nil {
		log.WithError(errCount).Error("agent key handler: organization lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create key failed"})
		return
	}
	if count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}

	key, errGenerate := security.GenerateAgentKey()
	if errGenerate != nil {
		log.WithError(errGenerate).Error("agent key handler: key generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create key failed"})
		return
	}

	row := models.AgentKey{
		OrganizationID: req.OrganizationID,
		Name:           name,
		Key:            key,
		IsEnabled:      true,
	}
	if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Error("agent key handler: create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create key failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":              row.ID,
		"organization_id": row.OrganizationID,
		"name":            row.Name,
		"key":             key,
	})
}

// agentKeyListQuery defines filters for the key list view.
type agentKeyListQuery struct {
	Page           int    `form:"page,default=1"`
	Limit          int    `form:"limit,default=20"`
	OrganizationID uint64 `form:"organization_id"`
}

// List returns agent keys with the credential masked.
func (h *AgentKeyHandler) List(c *gin.Context) {
	var q agentKeyListQuery
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

	base := h.db.WithContext(c.Request.Context()).Model(&models.AgentKey{})
	if q.OrganizationID != 0 {
		base = base.Where("organization_id = ?", q.OrganizationID)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count keys failed"})
		return
	}

	var rows []models.AgentKey
	offset := (q.Page - 1) * q.Limit
	if errFind := base.Order("id ASC").Offset(offset).Limit(q.Limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":              row.ID,
			"organization_id": row.OrganizationID,
			"name":            row.Name,
			"key":             maskAgentKey(row.Key),
			"is_enabled":      row.IsEnabled,
			"last_used_at":    row.LastUsedAt,
			"created_at":      row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":  out,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

// setKeyEnabledRequest toggles a key.
type setKeyEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled enables or disables one agent key.
func (h *AgentKeyHandler) SetEnabled(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}
	var req setKeyEnabledRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Model(&models.AgentKey{}).
		Where("id = ?", id).
		Update("is_enabled", *req.Enabled)
	if res.Error != nil {
		log.WithError(res.Error).Error("agent key handler: set enabled failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update key failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// maskAgentKey keeps the prefix and last four characters visible.
func maskAgentKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
