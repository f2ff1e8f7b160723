package decisionlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/settings"
)

func TestExportCSVStreamsAllPages(t *testing.T) {
	// Force a tiny page size so the export walks multiple cursor pages.
	settings.Store(time.Now(), map[string]json.RawMessage{
		settings.ExportPageSizeKey: json.RawMessage(`3`),
	})
	t.Cleanup(func() {
		settings.Store(time.Time{}, map[string]json.RawMessage{})
	})

	log := NewLog(setupDecisionDB(t))
	ctx := context.Background()

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		if _, errAppend := log.Append(ctx, Entry{
			OrganizationID: 1,
			AgentKind:      "Product",
			DecisionKind:   "create_task",
			Status:         models.DecisionStatusCompleted,
			Success:        true,
			TokensUsed:     int64(10 * (i + 1)),
			OccurredAt:     base.Add(time.Duration(i) * time.Minute),
		}); errAppend != nil {
			t.Fatalf("append %d: %v", i, errAppend)
		}
	}

	var buf bytes.Buffer
	if errExport := log.ExportCSV(ctx, &buf, QueryFilters{OrganizationID: 1}); errExport != nil {
		t.Fatalf("export: %v", errExport)
	}

	records, errRead := csv.NewReader(&buf).ReadAll()
	if errRead != nil {
		t.Fatalf("parse csv: %v", errRead)
	}
	if len(records) != 9 {
		t.Fatalf("expected header plus 8 rows, got %d", len(records))
	}
	if records[0][0] != "id" || records[0][3] != "agent_kind" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	// Newest first: the first data row carries the largest token count.
	if records[1][8] != "80" {
		t.Fatalf("expected newest row first, got tokens %s", records[1][8])
	}
	seen := map[string]bool{}
	for _, record := range records[1:] {
		if seen[record[0]] {
			t.Fatalf("row %s exported twice", record[0])
		}
		seen[record[0]] = true
	}
}

func TestExportCSVEmptyLogWritesHeaderOnly(t *testing.T) {
	log := NewLog(setupDecisionDB(t))
	var buf bytes.Buffer
	if errExport := log.ExportCSV(context.Background(), &buf, QueryFilters{}); errExport != nil {
		t.Fatalf("export: %v", errExport)
	}
	records, errRead := csv.NewReader(&buf).ReadAll()
	if errRead != nil {
		t.Fatalf("parse csv: %v", errRead)
	}
	if len(records) != 1 {
		t.Fatalf("expected header only, got %d records", len(records))
	}
}
