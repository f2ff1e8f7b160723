package models

import "time"

// AgentKey authenticates an agent executor against the governed API. Each key
// is bound to one organization; keys never grant access across tenants.
type AgentKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64 `gorm:"not null;index"`                 // Owning tenant.
	Name           string `gorm:"type:text;not null"`             // Human-readable label.
	Key            string `gorm:"type:text;not null;uniqueIndex"` // Bearer credential.

	// No column default: gorm skips zero-value fields that carry one, which
	// would turn a disabled key into an enabled row on insert.
	IsEnabled bool `gorm:"not null"` // Whether the key is accepted.

	LastUsedAt *time.Time `` // Last authenticated request.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
