package models

import (
	"time"

	"gorm.io/datatypes"
)

// Decision statuses distinguish how an AI-mediated attempt concluded.
const (
	// DecisionStatusCompleted marks a decision delivered to the user.
	DecisionStatusCompleted = "completed"
	// DecisionStatusFailed marks an attempt that errored before delivery.
	DecisionStatusFailed = "failed"
	// DecisionStatusCancelled marks an attempt cancelled by the caller.
	DecisionStatusCancelled = "cancelled"
	// DecisionStatusDenied marks an attempt blocked by the availability gate.
	DecisionStatusDenied = "denied"
)

// Approval states for decisions that require human sign-off.
const (
	// ApprovalStatePending marks a decision awaiting review.
	ApprovalStatePending = "pending"
	// ApprovalStateApproved marks a decision accepted by a reviewer.
	ApprovalStateApproved = "approved"
	// ApprovalStateRejected marks a decision rejected by a reviewer.
	ApprovalStateRejected = "rejected"
)

// Decision is one append-only audit record of an AI-mediated output.
// Rows are immutable once written except the approval resolution fields.
type Decision struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64  `gorm:"not null;index"` // Owning tenant.
	UserID         *uint64 `gorm:"index"`          // Acting user, when known.

	AgentKind    string `gorm:"type:text;not null;index"` // Agent kind (product, delivery, qa, ...).
	DecisionKind string `gorm:"type:text;not null;index"` // Decision kind (task-improvement, risk-detection, ...).

	Status  string `gorm:"type:text;not null;index"`      // Attempt status (completed/failed/cancelled/denied).
	Success bool   `gorm:"not null;default:false"`        // Whether the output was delivered.
	Summary string `gorm:"type:text;not null;default:''"` // Free-text summary of the output.

	TokensUsed int64 `gorm:"not null;default:0"` // Tokens consumed by the attempt.
	CostMicros int64 `gorm:"not null;default:0"` // Cost of the attempt in micros.

	CorrelationID string `gorm:"type:text;index"` // Correlates with execution records.

	Payload datatypes.JSON `gorm:"type:jsonb"` // Optional structured detail.

	RequiresApproval   bool       `gorm:"not null;default:false"` // Whether a human must resolve the decision.
	ApprovalState      string     `gorm:"type:text;index"`        // pending/approved/rejected when approval is required.
	ApprovalResolvedAt *time.Time ``                              // When the approval was resolved.

	OccurredAt time.Time `gorm:"not null;index"`          // Decision timestamp.
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}

// TableName overrides the default table name.
func (Decision) TableName() string {
	return "decisions"
}
