package models

import "time"

// Execution outcomes.
const (
	// ExecutionOutcomeRunning marks an execution that has not finished.
	ExecutionOutcomeRunning = "running"
	// ExecutionOutcomeSuccess marks an execution that completed.
	ExecutionOutcomeSuccess = "success"
	// ExecutionOutcomeFailure marks an execution that errored.
	ExecutionOutcomeFailure = "failure"
	// ExecutionOutcomeCancelled marks an execution cancelled by the caller.
	ExecutionOutcomeCancelled = "cancelled"
)

// Execution records one agent run from start to finish. At most one decision
// row may be linked to an execution.
type Execution struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64 `gorm:"not null;index"`           // Owning tenant.
	AgentKind      string `gorm:"type:text;not null;index"` // Agent kind.

	Outcome string `gorm:"type:text;not null;index"` // running/success/failure/cancelled.

	CorrelationID string  `gorm:"type:text;index"` // Correlates with decision records.
	DecisionID    *uint64 `gorm:"index"`           // Linked decision, when one was produced.

	StartedAt  time.Time  `gorm:"not null;index"` // Execution start.
	FinishedAt *time.Time ``                      // Execution end, nil while running.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}

// TableName overrides the default table name.
func (Execution) TableName() string {
	return "executions"
}
