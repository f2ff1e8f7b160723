package executionlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/taskfoundry/aigov/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Log errors.
var (
	// ErrExecutionNotFound indicates no execution row matches the given ID.
	ErrExecutionNotFound = errors.New("execution log: not found")
	// ErrAlreadyFinished indicates Finish was called twice for one execution.
	ErrAlreadyFinished = errors.New("execution log: already finished")
	// ErrInvalidOutcome indicates an unknown finish outcome name.
	ErrInvalidOutcome = errors.New("execution log: outcome must be success, failure, or cancelled")
)

// Log records agent runs from start to finish, so operators can reconcile
// decisions against the executions that produced them.
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

// Begin opens an execution record in the running state and returns it.
// An empty correlation ID is assigned automatically.
func (l *Log) Begin(ctx context.Context, organizationID uint64, agentKind, correlationID string) (*models.Execution, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("execution log: not initialized")
	}
	if organizationID == 0 {
		return nil, errors.New("execution log: organization id is required")
	}
	agentKind = strings.TrimSpace(agentKind)
	if agentKind == "" {
		return nil, errors.New("execution log: agent kind is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	row := models.Execution{
		OrganizationID: organizationID,
		AgentKind:      agentKind,
		Outcome:        models.ExecutionOutcomeRunning,
		CorrelationID:  correlationID,
		StartedAt:      l.now(),
	}
	if errCreate := l.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, errCreate
	}
	return &row, nil
}

// Finish closes a running execution with its outcome and, optionally, the
// decision it produced. Finishing twice is rejected; rows are otherwise
// immutable.
func (l *Log) Finish(ctx context.Context, executionID uint64, outcome string, decisionID *uint64) error {
	if l == nil || l.db == nil {
		return errors.New("execution log: not initialized")
	}
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	switch outcome {
	case models.ExecutionOutcomeSuccess, models.ExecutionOutcomeFailure, models.ExecutionOutcomeCancelled:
	default:
		return ErrInvalidOutcome
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := l.now()
	updates := map[string]any{
		"outcome":     outcome,
		"finished_at": now,
	}
	if decisionID != nil && *decisionID != 0 {
		updates["decision_id"] = *decisionID
	}

	res := l.db.WithContext(ctx).Model(&models.Execution{}).
		Where("id = ? AND outcome = ?", executionID, models.ExecutionOutcomeRunning).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var row models.Execution
		errFind := l.db.WithContext(ctx).Select("id").First(&row, executionID).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ErrExecutionNotFound
		}
		if errFind != nil {
			return errFind
		}
		return ErrAlreadyFinished
	}
	return nil
}

// Get fetches one execution by ID.
func (l *Log) Get(ctx context.Context, executionID uint64) (*models.Execution, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("execution log: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var row models.Execution
	errFind := l.db.WithContext(ctx).First(&row, executionID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrExecutionNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return &row, nil
}
