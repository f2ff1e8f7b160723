package decisionlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/taskfoundry/aigov/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDecisionDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:decisions_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Decision{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func TestAppendAssignsIDAndCorrelation(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	ctx := context.Background()

	id, errAppend := log.Append(ctx, Entry{
		OrganizationID: 1,
		AgentKind:      "Product",
		DecisionKind:   "create_task",
		Status:         models.DecisionStatusCompleted,
		Success:        true,
		Summary:        "created task T-100",
		TokensUsed:     120,
		CostMicros:     2500,
	})
	if errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}
	if id == 0 {
		t.Fatalf("expected assigned id")
	}

	row, errGet := log.Get(ctx, id)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if row.CorrelationID == "" {
		t.Fatalf("empty correlation id must be assigned")
	}
	if row.OccurredAt.IsZero() {
		t.Fatalf("occurred_at must default to now")
	}
	if row.ApprovalState != "" {
		t.Fatalf("entries without approval must have no approval state, got %q", row.ApprovalState)
	}
}

func TestAppendValidatesEntry(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	ctx := context.Background()

	cases := []Entry{
		{AgentKind: "Product", Status: models.DecisionStatusCompleted},
		{OrganizationID: 1, Status: models.DecisionStatusCompleted},
		{OrganizationID: 1, AgentKind: "Product", Status: "unknown"},
		{OrganizationID: 1, AgentKind: "Product", Status: models.DecisionStatusCompleted, Payload: []byte(`{broken`)},
	}
	for i, entry := range cases {
		if _, err := log.Append(ctx, entry); !IsValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestAppendDeniedWritesAuditRow(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	ctx := context.Background()

	userID := uint64(9)
	id, errAppend := log.AppendDenied(ctx, 1, &userID, "Product", "request quota reached for organization 1")
	if errAppend != nil {
		t.Fatalf("append denied: %v", errAppend)
	}
	row, errGet := log.Get(ctx, id)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if row.Status != models.DecisionStatusDenied || row.Success {
		t.Fatalf("denied row must be unsuccessful with denied status: %+v", row)
	}
	if row.Summary == "" {
		t.Fatalf("denial reason must be kept")
	}
}

func TestQueryFiltersAndPagination(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		agent := "Product"
		if i%2 == 1 {
			agent = "QA"
		}
		_, errAppend := log.Append(ctx, Entry{
			OrganizationID: 1,
			AgentKind:      agent,
			DecisionKind:   "create_task",
			Status:         models.DecisionStatusCompleted,
			Success:        true,
			OccurredAt:     base.Add(time.Duration(i) * time.Minute),
		})
		if errAppend != nil {
			t.Fatalf("append %d: %v", i, errAppend)
		}
	}
	// A second tenant's rows must never leak into the page.
	if _, errAppend := log.Append(ctx, Entry{
		OrganizationID: 2,
		AgentKind:      "Product",
		Status:         models.DecisionStatusCompleted,
		OccurredAt:     base.Add(time.Hour),
	}); errAppend != nil {
		t.Fatalf("append other org: %v", errAppend)
	}

	page, errQuery := log.Query(ctx, QueryFilters{OrganizationID: 1, Limit: 10})
	if errQuery != nil {
		t.Fatalf("query: %v", errQuery)
	}
	if len(page.Entries) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(page.Entries))
	}
	if page.NextCursor == "" {
		t.Fatalf("expected a next cursor")
	}
	// Newest first.
	if !page.Entries[0].OccurredAt.After(page.Entries[9].OccurredAt) {
		t.Fatalf("expected descending order")
	}

	seen := map[uint64]bool{}
	for i := range page.Entries {
		seen[page.Entries[i].ID] = true
	}
	cursor := page.NextCursor
	total := len(page.Entries)
	for cursor != "" {
		next, errNext := log.Query(ctx, QueryFilters{OrganizationID: 1, Limit: 10, Cursor: cursor})
		if errNext != nil {
			t.Fatalf("query next: %v", errNext)
		}
		for i := range next.Entries {
			if seen[next.Entries[i].ID] {
				t.Fatalf("row %d repeated across pages", next.Entries[i].ID)
			}
			seen[next.Entries[i].ID] = true
		}
		total += len(next.Entries)
		cursor = next.NextCursor
	}
	if total != 25 {
		t.Fatalf("expected 25 rows across pages, got %d", total)
	}

	qaPage, errQA := log.Query(ctx, QueryFilters{OrganizationID: 1, AgentKind: "QA", Limit: 100})
	if errQA != nil {
		t.Fatalf("query qa: %v", errQA)
	}
	if len(qaPage.Entries) != 12 {
		t.Fatalf("expected 12 QA rows, got %d", len(qaPage.Entries))
	}

	windowed, errWindow := log.Query(ctx, QueryFilters{
		OrganizationID: 1,
		From:           base.Add(5 * time.Minute),
		To:             base.Add(9 * time.Minute),
		Limit:          100,
	})
	if errWindow != nil {
		t.Fatalf("query window: %v", errWindow)
	}
	if len(windowed.Entries) != 5 {
		t.Fatalf("expected 5 rows in window, got %d", len(windowed.Entries))
	}
}

func TestQueryRejectsMalformedCursor(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	if _, err := log.Query(context.Background(), QueryFilters{Cursor: "not-a-cursor!!"}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveApprovalOnlyOnce(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	ctx := context.Background()

	id, errAppend := log.Append(ctx, Entry{
		OrganizationID:   1,
		AgentKind:        "Product",
		DecisionKind:     "publish",
		Status:           models.DecisionStatusCompleted,
		RequiresApproval: true,
	})
	if errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}

	row, _ := log.Get(ctx, id)
	if row.ApprovalState != models.ApprovalStatePending {
		t.Fatalf("expected pending approval, got %q", row.ApprovalState)
	}

	if errResolve := log.ResolveApproval(ctx, id, true); errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	row, _ = log.Get(ctx, id)
	if row.ApprovalState != models.ApprovalStateApproved || row.ApprovalResolvedAt == nil {
		t.Fatalf("expected approved with timestamp: %+v", row)
	}

	if errAgain := log.ResolveApproval(ctx, id, false); !errors.Is(errAgain, ErrNotAwaitingApproval) {
		t.Fatalf("expected ErrNotAwaitingApproval, got %v", errAgain)
	}

	if errMissing := log.ResolveApproval(ctx, 4242, true); !errors.Is(errMissing, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", errMissing)
	}
}

func TestResolveApprovalRejection(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	ctx := context.Background()

	id, errAppend := log.Append(ctx, Entry{
		OrganizationID:   1,
		AgentKind:        "Product",
		Status:           models.DecisionStatusCompleted,
		RequiresApproval: true,
	})
	if errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}
	if errResolve := log.ResolveApproval(ctx, id, false); errResolve != nil {
		t.Fatalf("resolve: %v", errResolve)
	}
	row, _ := log.Get(ctx, id)
	if row.ApprovalState != models.ApprovalStateRejected {
		t.Fatalf("expected rejected, got %q", row.ApprovalState)
	}
}
