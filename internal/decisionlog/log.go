package decisionlog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/taskfoundry/aigov/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Log errors.
var (
	// ErrEntryNotFound indicates no decision row matches the given ID.
	ErrEntryNotFound = errors.New("decision log: entry not found")
	// ErrNotAwaitingApproval indicates the decision does not have a pending
	// approval to resolve.
	ErrNotAwaitingApproval = errors.New("decision log: entry is not awaiting approval")
)

// ValidationError reports a malformed entry or query. The boundary maps it
// to a client error instead of a server fault.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("decision log: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether the error is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// Entry carries the fields of one decision to append. The log assigns the ID
// and, when empty, the correlation ID.
type Entry struct {
	OrganizationID   uint64
	UserID           *uint64
	AgentKind        string
	DecisionKind     string
	Status           string
	Success          bool
	Summary          string
	TokensUsed       int64
	CostMicros       int64
	CorrelationID    string
	Payload          json.RawMessage
	RequiresApproval bool
	OccurredAt       time.Time
}

// QueryFilters narrows a decision query. Zero values mean "no filter".
type QueryFilters struct {
	OrganizationID uint64
	UserID         *uint64
	AgentKind      string
	DecisionKind   string
	Status         string
	From           time.Time
	To             time.Time
	Limit          int
	Cursor         string
}

// QueryPage is one page of decisions plus the cursor for the next page. An
// empty NextCursor means the sequence is exhausted.
type QueryPage struct {
	Entries    []models.Decision
	NextCursor string
}

// Log is the append-only record of AI-mediated decisions. Rows are written
// for every attempt, including denied and failed ones, independent of quota
// bookkeeping; approval resolution is the only permitted mutation.
type Log struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLog constructs a Log.
func NewLog(db *gorm.DB) *Log {
	if db == nil {
		return nil
	}
	return &Log{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Append writes one decision row and returns its ID.
func (l *Log) Append(ctx context.Context, entry Entry) (uint64, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("decision log: not initialized")
	}
	if entry.OrganizationID == 0 {
		return 0, &ValidationError{Field: "organization_id", Reason: "is required"}
	}
	if strings.TrimSpace(entry.AgentKind) == "" {
		return 0, &ValidationError{Field: "agent_kind", Reason: "is required"}
	}
	if !validStatus(entry.Status) {
		return 0, &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a known status", entry.Status)}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	correlationID := strings.TrimSpace(entry.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = l.now()
	}

	approvalState := ""
	if entry.RequiresApproval {
		approvalState = models.ApprovalStatePending
	}

	var payload datatypes.JSON
	if len(entry.Payload) > 0 {
		if !json.Valid(entry.Payload) {
			return 0, &ValidationError{Field: "payload", Reason: "is not valid JSON"}
		}
		payload = datatypes.JSON(entry.Payload)
	}

	row := models.Decision{
		OrganizationID:   entry.OrganizationID,
		UserID:           entry.UserID,
		AgentKind:        strings.TrimSpace(entry.AgentKind),
		DecisionKind:     strings.TrimSpace(entry.DecisionKind),
		Status:           strings.ToLower(strings.TrimSpace(entry.Status)),
		Success:          entry.Success,
		Summary:          entry.Summary,
		TokensUsed:       entry.TokensUsed,
		CostMicros:       entry.CostMicros,
		CorrelationID:    correlationID,
		Payload:          payload,
		RequiresApproval: entry.RequiresApproval,
		ApprovalState:    approvalState,
		OccurredAt:       occurredAt.UTC(),
	}
	if errCreate := l.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return 0, errCreate
	}
	return row.ID, nil
}

// AppendDenied records an attempt the availability gate blocked, so audit
// trails exist even for work that never ran.
func (l *Log) AppendDenied(ctx context.Context, organizationID uint64, userID *uint64, agentKind, reason string) (uint64, error) {
	return l.Append(ctx, Entry{
		OrganizationID: organizationID,
		UserID:         userID,
		AgentKind:      agentKind,
		Status:         models.DecisionStatusDenied,
		Success:        false,
		Summary:        reason,
	})
}

// Query returns one page of decisions ordered by timestamp descending. The
// returned cursor restarts the sequence exactly after the last row of the
// page, so callers can walk an unbounded log in finite pages.
func (l *Log) Query(ctx context.Context, filters QueryFilters) (*QueryPage, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("decision log: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	q := l.db.WithContext(ctx).Model(&models.Decision{})
	if filters.OrganizationID != 0 {
		q = q.Where("organization_id = ?", filters.OrganizationID)
	}
	if filters.UserID != nil && *filters.UserID != 0 {
		q = q.Where("user_id = ?", *filters.UserID)
	}
	if kind := strings.TrimSpace(filters.AgentKind); kind != "" {
		q = q.Where("agent_kind = ?", kind)
	}
	if kind := strings.TrimSpace(filters.DecisionKind); kind != "" {
		q = q.Where("decision_kind = ?", kind)
	}
	if status := strings.ToLower(strings.TrimSpace(filters.Status)); status != "" {
		q = q.Where("status = ?", status)
	}
	if !filters.From.IsZero() {
		q = q.Where("occurred_at >= ?", filters.From.UTC())
	}
	if !filters.To.IsZero() {
		q = q.Where("occurred_at <= ?", filters.To.UTC())
	}
	if cursor := strings.TrimSpace(filters.Cursor); cursor != "" {
		occurredAt, id, errCursor := decodeCursor(cursor)
		if errCursor != nil {
			return nil, errCursor
		}
		q = q.Where("occurred_at < ? OR (occurred_at = ? AND id < ?)", occurredAt, occurredAt, id)
	}

	var rows []models.Decision
	if errFind := q.Order("occurred_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}

	page := &QueryPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = encodeCursor(last.OccurredAt, last.ID)
	}
	page.Entries = rows
	return page, nil
}

// Get fetches one decision by ID.
func (l *Log) Get(ctx context.Context, id uint64) (*models.Decision, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("decision log: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var row models.Decision
	errFind := l.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return &row, nil
}

// ResolveApproval records the human verdict on a pending decision. This is
// the only mutation the log permits after append.
func (l *Log) ResolveApproval(ctx context.Context, id uint64, approved bool) error {
	if l == nil || l.db == nil {
		return errors.New("decision log: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	state := models.ApprovalStateRejected
	if approved {
		state = models.ApprovalStateApproved
	}
	now := l.now()

	res := l.db.WithContext(ctx).Model(&models.Decision{}).
		Where("id = ? AND requires_approval = ? AND approval_state = ?", id, true, models.ApprovalStatePending).
		Updates(map[string]any{
			"approval_state":       state,
			"approval_resolved_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var row models.Decision
		errFind := l.db.WithContext(ctx).Select("id").First(&row, id).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ErrEntryNotFound
		}
		if errFind != nil {
			return errFind
		}
		return ErrNotAwaitingApproval
	}
	return nil
}

// validStatus reports whether the status name is known.
func validStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.DecisionStatusCompleted, models.DecisionStatusFailed,
		models.DecisionStatusCancelled, models.DecisionStatusDenied:
		return true
	default:
		return false
	}
}

// encodeCursor packs a page boundary into an opaque token.
func encodeCursor(occurredAt time.Time, id uint64) string {
	raw := strconv.FormatInt(occurredAt.UTC().UnixNano(), 10) + ":" + strconv.FormatUint(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor unpacks an opaque pagination token.
func decodeCursor(cursor string) (time.Time, uint64, error) {
	decoded, errDecode := base64.RawURLEncoding.DecodeString(strings.TrimSpace(cursor))
	if errDecode != nil {
		return time.Time{}, 0, &ValidationError{Field: "cursor", Reason: "is malformed"}
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, &ValidationError{Field: "cursor", Reason: "is malformed"}
	}
	nanos, errNanos := strconv.ParseInt(parts[0], 10, 64)
	if errNanos != nil {
		return time.Time{}, 0, &ValidationError{Field: "cursor", Reason: "is malformed"}
	}
	id, errID := strconv.ParseUint(parts[1], 10, 64)
	if errID != nil {
		return time.Time{}, 0, &ValidationError{Field: "cursor", Reason: "is malformed"}
	}
	return time.Unix(0, nanos).UTC(), id, nil
}
