package executionlog

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

func setupExecutionDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:executions_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Execution{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func TestBeginOpensRunningExecution(t *testing.T) {
	log := NewLog(setupExecutionDB(t))
	ctx := context.Background()

	row, errBegin := log.Begin(ctx, 1, "Delivery", "")
	if errBegin != nil {
		t.Fatalf("begin: %v", errBegin)
	}
	if row.Outcome != models.ExecutionOutcomeRunning {
		t.Fatalf("expected running outcome, got %s", row.Outcome)
	}
	if row.CorrelationID == "" {
		t.Fatalf("empty correlation id must be assigned")
	}
	if row.FinishedAt != nil {
		t.Fatalf("new execution must not be finished")
	}
}

func TestBeginValidatesInput(t *testing.T) {
	log := NewLog(setupExecutionDB(t))
	if _, err := log.Begin(context.Background(), 0, "Delivery", ""); err == nil {
		t.Fatalf("expected error for missing organization")
	}
	if _, err := log.Begin(context.Background(), 1, "  ", ""); err == nil {
		t.Fatalf("expected error for missing agent kind")
	}
}

func TestFinishClosesExecutionOnce(t *testing.T) {
	log := NewLog(setupExecutionDB(t))
	ctx := context.Background()

	row, errBegin := log.Begin(ctx, 1, "Delivery", "corr-1")
	if errBegin != nil {
		t.Fatalf("begin: %v", errBegin)
	}

	decisionID := uint64(7)
	if errFinish := log.Finish(ctx, row.ID, models.ExecutionOutcomeSuccess, &decisionID); errFinish != nil {
		t.Fatalf("finish: %v", errFinish)
	}

	got, errGet := log.Get(ctx, row.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if got.Outcome != models.ExecutionOutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", got.Outcome)
	}
	if got.FinishedAt == nil {
		t.Fatalf("finished_at must be set")
	}
	if got.DecisionID == nil || *got.DecisionID != decisionID {
		t.Fatalf("decision link missing: %+v", got.DecisionID)
	}

	if errAgain := log.Finish(ctx, row.ID, models.ExecutionOutcomeFailure, nil); !errors.Is(errAgain, ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", errAgain)
	}
	got, _ = log.Get(ctx, row.ID)
	if got.Outcome != models.ExecutionOutcomeSuccess {
		t.Fatalf("second finish must not change the outcome")
	}
}

func TestFinishUnknownExecution(t *testing.T) {
	log := NewLog(setupExecutionDB(t))
	if err := log.Finish(context.Background(), 4242, models.ExecutionOutcomeSuccess, nil); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestFinishRejectsUnknownOutcome(t *testing.T) {
	log := NewLog(setupExecutionDB(t))
	ctx := context.Background()
	row, errBegin := log.Begin(ctx, 1, "QA", "")
	if errBegin != nil {
		t.Fatalf("begin: %v", errBegin)
	}
	if err := log.Finish(ctx, row.ID, "running", nil); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
	if err := log.Finish(ctx, row.ID, "exploded", nil); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}
