package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuotaArchive preserves a quota scope's aggregate usage for one elapsed
// period. Rows are written once at rollover and never mutated.
type QuotaArchive struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	QuotaID        uint64  `gorm:"not null;index"` // Source quota row.
	OrganizationID uint64  `gorm:"not null;index"` // Owning tenant.
	UserID         *uint64 `gorm:"index"`          // Override user, when applicable.

	Tier string `gorm:"type:text;not null"` // Tier at archive time.

	PeriodStart time.Time `gorm:"not null;index"` // Archived period start.
	PeriodEnd   time.Time `gorm:"not null;index"` // Archived period end.

	RequestsUsed   int64 `gorm:"not null;default:0"` // Requests recorded in the period.
	TokensUsed     int64 `gorm:"not null;default:0"` // Tokens recorded in the period.
	DecisionsMade  int64 `gorm:"not null;default:0"` // Decisions recorded in the period.
	CostMicrosUsed int64 `gorm:"not null;default:0"` // Cost recorded in the period in micros.

	AgentBreakdown    datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Per-agent-kind counts.
	DecisionBreakdown datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Per-decision-kind counts.

	ArchivedAt time.Time `gorm:"not null;autoCreateTime"` // Archive timestamp.
}

// TableName overrides the default table name.
func (QuotaArchive) TableName() string {
	return "quota_archives"
}
