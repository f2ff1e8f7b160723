package models

import (
	"time"

	"gorm.io/datatypes"
)

// Quota tracks AI usage limits and counters for one scope. Each organization
// owns exactly one organization-level record (user_id NULL); user-level
// override rows share the organization ID and carry a non-NULL user ID.
type Quota struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64  `gorm:"not null;index:idx_quota_scope,unique"` // Owning tenant.
	UserID         *uint64 `gorm:"index:idx_quota_scope,unique"`          // Optional per-user override.

	// IsActive has no column default so inserting a suspended scope stores
	// false instead of being skipped as a zero value.
	Tier     string `gorm:"type:text;not null;index"` // Tier name (disabled/free/standard/premium/custom).
	IsActive bool   `gorm:"not null"`                 // Whether AI features are enabled for the scope.

	MaxRequests   int64 `gorm:"not null;default:0"` // Requests per period; <= 0 means unlimited.
	MaxTokens     int64 `gorm:"not null;default:0"` // Tokens per period; <= 0 means unlimited.
	MaxCostMicros int64 `gorm:"not null;default:0"` // Cost per period in micros; <= 0 means unlimited.

	RequestsUsed   int64 `gorm:"not null;default:0"` // Requests recorded this period.
	TokensUsed     int64 `gorm:"not null;default:0"` // Tokens recorded this period.
	DecisionsMade  int64 `gorm:"not null;default:0"` // Decisions recorded this period.
	CostMicrosUsed int64 `gorm:"not null;default:0"` // Cost recorded this period in micros.

	AgentBreakdown    datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Usage count per agent kind.
	DecisionBreakdown datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Usage count per decision kind.

	QuotaExceeded bool `gorm:"not null;default:false"` // Derived flag recomputed after each increment.

	PeriodDays  int       `gorm:"not null;default:0"` // Period length in days; 0 means calendar month.
	PeriodStart time.Time `gorm:"not null"`           // Current period start.
	PeriodEnd   time.Time `gorm:"not null;index"`     // Current period end.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (Quota) TableName() string {
	return "quotas"
}
