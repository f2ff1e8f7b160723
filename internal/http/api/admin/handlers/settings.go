package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/settings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsHandler manages DB-backed runtime configuration.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// List returns all settings rows.
func (h *SettingsHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		log.WithError(errFind).Error("settings handler: list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"key":        row.Key,
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// updateSettingsRequest upserts setting values by key.
type updateSettingsRequest struct {
	Values map[string]json.RawMessage `json:"values" binding:"required"`
}

// Update upserts the given settings and refreshes the in-memory snapshot so
// the change takes effect without a restart.
func (h *SettingsHandler) Update(c *gin.Context) {
	var req updateSettingsRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || len(req.Values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "values is required"})
		return
	}

	ctx := c.Request.Context()
	for key, value := range req.Values {
		key = strings.TrimSpace(key)
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty setting key"})
			return
		}
		if len(value) > 0 && !json.Valid(value) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "setting " + key + " is not valid JSON"})
			return
		}
		row := models.Setting{Key: key, Value: value}
		if errUpsert := h.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error; errUpsert != nil {
			log.WithError(errUpsert).Error("settings handler: upsert failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update settings failed"})
			return
		}
	}

	if errRefresh := settings.Refresh(ctx, h.db); errRefresh != nil {
		log.WithError(errRefresh).Error("settings handler: refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh settings failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
