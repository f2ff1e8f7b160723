package decisionlog

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/settings"
)

// exportHeader lists the CSV columns in output order.
var exportHeader = []string{
	"id", "organization_id", "user_id", "agent_kind", "decision_kind",
	"status", "success", "summary", "tokens_used", "cost_micros",
	"correlation_id", "requires_approval", "approval_state", "occurred_at",
}

// ExportCSV streams decisions matching the filters to w as CSV, newest
// first. Pages are fetched cursor-by-cursor so exports of unbounded length
// never buffer the full result set.
func (l *Log) ExportCSV(ctx context.Context, w io.Writer, filters QueryFilters) error {
	if l == nil || l.db == nil {
		return errors.New("decision log: not initialized")
	}
	if w == nil {
		return errors.New("decision log: nil writer")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pageSize := settings.IntValue(settings.ExportPageSizeKey, settings.DefaultExportPageSize)
	if pageSize <= 0 {
		pageSize = settings.DefaultExportPageSize
	}
	if pageSize > maxQueryLimit {
		pageSize = maxQueryLimit
	}

	writer := csv.NewWriter(w)
	if errHeader := writer.Write(exportHeader); errHeader != nil {
		return errHeader
	}

	filters.Limit = pageSize
	filters.Cursor = ""
	for {
		if errCtx := ctx.Err(); errCtx != nil {
			return errCtx
		}
		page, errQuery := l.Query(ctx, filters)
		if errQuery != nil {
			return errQuery
		}
		for i := range page.Entries {
			if errRow := writer.Write(exportRow(&page.Entries[i])); errRow != nil {
				return errRow
			}
		}
		writer.Flush()
		if errFlush := writer.Error(); errFlush != nil {
			return errFlush
		}
		if page.NextCursor == "" {
			return nil
		}
		filters.Cursor = page.NextCursor
	}
}

// exportRow flattens one decision into CSV fields.
func exportRow(row *models.Decision) []string {
	userID := ""
	if row.UserID != nil {
		userID = strconv.FormatUint(*row.UserID, 10)
	}
	return []string{
		strconv.FormatUint(row.ID, 10),
		strconv.FormatUint(row.OrganizationID, 10),
		userID,
		row.AgentKind,
		row.DecisionKind,
		row.Status,
		strconv.FormatBool(row.Success),
		row.Summary,
		strconv.FormatInt(row.TokensUsed, 10),
		strconv.FormatInt(row.CostMicros, 10),
		row.CorrelationID,
		strconv.FormatBool(row.RequiresApproval),
		row.ApprovalState,
		row.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
