package settings

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/taskfoundry/aigov/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func resetSnapshot(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Store(time.Time{}, map[string]json.RawMessage{})
	})
	Store(time.Time{}, map[string]json.RawMessage{})
}

func TestIntValueParsesFormats(t *testing.T) {
	resetSnapshot(t)
	Store(time.Now(), map[string]json.RawMessage{
		"A": json.RawMessage(`42`),
		"B": json.RawMessage(`"17"`),
		"C": json.RawMessage(`{"value": 9}`),
		"D": json.RawMessage(`"nope"`),
	})

	if got := IntValue("A", 0); got != 42 {
		t.Fatalf("number: got %d", got)
	}
	if got := IntValue("B", 0); got != 17 {
		t.Fatalf("string number: got %d", got)
	}
	if got := IntValue("C", 0); got != 9 {
		t.Fatalf("wrapped value: got %d", got)
	}
	if got := IntValue("D", 5); got != 5 {
		t.Fatalf("garbage must fall back, got %d", got)
	}
	if got := IntValue("MISSING", 7); got != 7 {
		t.Fatalf("missing must fall back, got %d", got)
	}
}

func TestBoolValueParsesFormats(t *testing.T) {
	resetSnapshot(t)
	Store(time.Now(), map[string]json.RawMessage{
		"A": json.RawMessage(`true`),
		"B": json.RawMessage(`"false"`),
		"C": json.RawMessage(`1`),
		"D": json.RawMessage(`{"value": true}`),
	})

	if !BoolValue("A", false) {
		t.Fatalf("bool literal")
	}
	if BoolValue("B", true) {
		t.Fatalf("string false")
	}
	if !BoolValue("C", false) {
		t.Fatalf("numeric one")
	}
	if !BoolValue("D", false) {
		t.Fatalf("wrapped value")
	}
	if !BoolValue("MISSING", true) {
		t.Fatalf("missing must fall back")
	}
}

func TestRefreshLoadsRowsIntoSnapshot(t *testing.T) {
	resetSnapshot(t)

	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	rows := []models.Setting{
		{Key: RecordOnFailureKey, Value: json.RawMessage(`true`)},
		{Key: ExportPageSizeKey, Value: json.RawMessage(`250`)},
	}
	for i := range rows {
		if errCreate := db.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create setting: %v", errCreate)
		}
	}

	if errRefresh := Refresh(nil, db); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}

	if !BoolValue(RecordOnFailureKey, false) {
		t.Fatalf("record-on-failure not loaded")
	}
	if got := IntValue(ExportPageSizeKey, 0); got != 250 {
		t.Fatalf("export page size not loaded, got %d", got)
	}
	if UpdatedAt().IsZero() {
		t.Fatalf("snapshot timestamp must be set")
	}
}
