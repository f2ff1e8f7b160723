package decisionlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/settings"
)

func TestRetentionCleanerDeletesOnlyExpiredRows(t *testing.T) {
	settings.Store(time.Now(), map[string]json.RawMessage{
		settings.DecisionsRetentionDaysKey: json.RawMessage(`30`),
	})
	t.Cleanup(func() {
		settings.Store(time.Time{}, map[string]json.RawMessage{})
	})

	db := setupDecisionDB(t)
	log := NewLog(db)
	cleaner := NewRetentionCleaner(db)
	cleaner.batchSize = 2
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -60)
	for i := 0; i < 5; i++ {
		if _, errAppend := log.Append(ctx, Entry{
			OrganizationID: 1,
			AgentKind:      "Product",
			Status:         models.DecisionStatusCompleted,
			OccurredAt:     old.Add(time.Duration(i) * time.Hour),
		}); errAppend != nil {
			t.Fatalf("append old %d: %v", i, errAppend)
		}
	}
	freshID, errFresh := log.Append(ctx, Entry{
		OrganizationID: 1,
		AgentKind:      "Product",
		Status:         models.DecisionStatusCompleted,
		OccurredAt:     now,
	})
	if errFresh != nil {
		t.Fatalf("append fresh: %v", errFresh)
	}

	cleaner.cleanupOnce(ctx)

	var count int64
	if errCount := db.Model(&models.Decision{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected only the fresh row to survive, got %d", count)
	}
	if _, errGet := log.Get(ctx, freshID); errGet != nil {
		t.Fatalf("fresh row must survive: %v", errGet)
	}
}

func TestRetentionCleanerKeepsForeverByDefault(t *testing.T) {
	settings.Store(time.Time{}, map[string]json.RawMessage{})

	db := setupDecisionDB(t)
	log := NewLog(db)
	cleaner := NewRetentionCleaner(db)
	ctx := context.Background()

	if _, errAppend := log.Append(ctx, Entry{
		OrganizationID: 1,
		AgentKind:      "Product",
		Status:         models.DecisionStatusCompleted,
		OccurredAt:     time.Now().UTC().AddDate(-1, 0, 0),
	}); errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}

	cleaner.cleanupOnce(ctx)

	var count int64
	db.Model(&models.Decision{}).Count(&count)
	if count != 1 {
		t.Fatalf("default retention must keep all rows, got %d", count)
	}
}
