package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/quota"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UsageReportHandler serves usage accounting views for the management
// surface.
type UsageReportHandler struct {
	db    *gorm.DB
	store *quota.Store
}

// NewUsageReportHandler constructs a UsageReportHandler.
func NewUsageReportHandler(db *gorm.DB, store *quota.Store) *UsageReportHandler {
	return &UsageReportHandler{db: db, store: store}
}

// usageReportQuery defines the report scope.
type usageReportQuery struct {
	OrganizationID uint64 `form:"organization_id" binding:"required"`
	UserID         uint64 `form:"user_id"`
	From           string `form:"from"` // RFC 3339; defaults to period start.
	To             string `form:"to"`   // RFC 3339; defaults to now.
}

// decisionAggregateRow is the query result row for decision aggregates.
type decisionAggregateRow struct {
	Count      int64 `gorm:"column:count"`
	TokensUsed int64 `gorm:"column:tokens_used"`
	CostMicros int64 `gorm:"column:cost_micros"`
}

// kindCountRow is the query result row for per-kind counts.
type kindCountRow struct {
	Kind  string `gorm:"column:kind"`
	Count int64  `gorm:"column:count"`
}

// Report returns current-period counters with per-kind breakdowns plus
// decision-log aggregates for the requested window. A scope with no recorded
// usage reports zeros rather than an error.
func (h *UsageReportHandler) Report(c *gin.Context) {
	var q usageReportQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "organization_id is required"})
		return
	}

	ctx := c.Request.Context()

	var userID *uint64
	if q.UserID != 0 {
		userID = &q.UserID
	}

	out := gin.H{
		"organization_id": q.OrganizationID,
		"user_id":         userID,
	}

	var from, to time.Time
	quotaRow, errResolve := h.store.Resolve(ctx, q.OrganizationID, userID)
	switch {
	case errResolve == nil:
		out["period"] = gin.H{
			"start":            quotaRow.PeriodStart,
			"end":              quotaRow.PeriodEnd,
			"requests_used":    quotaRow.RequestsUsed,
			"tokens_used":      quotaRow.TokensUsed,
			"decisions_made":   quotaRow.DecisionsMade,
			"cost_micros_used": quotaRow.CostMicrosUsed,
			"quota_exceeded":   quotaRow.QuotaExceeded,
		}
		out["agent_breakdown"] = breakdownMap(quotaRow.AgentBreakdown)
		out["decision_breakdown"] = breakdownMap(quotaRow.DecisionBreakdown)
		from = quotaRow.PeriodStart
	case errors.Is(errResolve, quota.ErrQuotaNotFound):
		out["period"] = gin.H{
			"requests_used":    0,
			"tokens_used":      0,
			"decisions_made":   0,
			"cost_micros_used": 0,
			"quota_exceeded":   false,
		}
		out["agent_breakdown"] = map[string]int64{}
		out["decision_breakdown"] = map[string]int64{}
	default:
		log.WithError(errResolve).Error("usage report: resolve quota failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage report failed"})
		return
	}

	if parsed, ok := parseReportTime(q.From); ok {
		from = parsed
	}
	to = time.Now().UTC()
	if parsed, ok := parseReportTime(q.To); ok {
		to = parsed
	}

	decisions, errDecisions := h.decisionAggregates(ctx, q.OrganizationID, userID, from, to)
	if errDecisions != nil {
		log.WithError(errDecisions).Error("usage report: decision aggregates failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage report failed"})
		return
	}
	out["decisions"] = decisions

	c.JSON(http.StatusOK, out)
}

// decisionAggregates summarizes the decision log for the report window:
// totals, per-status counts, and per-agent-kind counts.
func (h *UsageReportHandler) decisionAggregates(ctx context.Context, organizationID uint64, userID *uint64, from, to time.Time) (gin.H, error) {
	scope := func() *gorm.DB {
		q := h.db.WithContext(ctx).Model(&models.Decision{}).
			Where("organization_id = ?", organizationID)
		if userID != nil {
			q = q.Where("user_id = ?", *userID)
		}
		if !from.IsZero() {
			q = q.Where("occurred_at >= ?", from.UTC())
		}
		if !to.IsZero() {
			q = q.Where("occurred_at <= ?", to.UTC())
		}
		return q
	}

	var totals decisionAggregateRow
	if errTotals := scope().
		Select("COUNT(*) AS count, COALESCE(SUM(tokens_used), 0) AS tokens_used, COALESCE(SUM(cost_micros), 0) AS cost_micros").
		Scan(&totals).Error; errTotals != nil {
		return nil, errTotals
	}

	var byStatus []kindCountRow
	if errStatus := scope().
		Select("status AS kind, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; errStatus != nil {
		return nil, errStatus
	}

	var byAgent []kindCountRow
	if errAgent := scope().
		Select("agent_kind AS kind, COUNT(*) AS count").
		Group("agent_kind").
		Scan(&byAgent).Error; errAgent != nil {
		return nil, errAgent
	}

	return gin.H{
		"total":       totals.Count,
		"tokens_used": totals.TokensUsed,
		"cost_micros": totals.CostMicros,
		"by_status":   kindCountMap(byStatus),
		"by_agent":    kindCountMap(byAgent),
		"from":        from,
		"to":          to,
	}, nil
}

func kindCountMap(rows []kindCountRow) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Kind] = row.Count
	}
	return out
}

func breakdownMap(raw []byte) map[string]int64 {
	out := map[string]int64{}
	if len(raw) == 0 {
		return out
	}
	if errDecode := json.Unmarshal(raw, &out); errDecode != nil {
		return map[string]int64{}
	}
	return out
}

func parseReportTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	parsed, errParse := time.Parse(time.RFC3339, value)
	if errParse != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}
