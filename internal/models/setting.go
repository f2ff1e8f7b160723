package models

import (
	"encoding/json"
	"time"
)

// Setting is a DB-backed runtime configuration entry. Values are raw JSON so
// operators can store numbers, booleans, or structured payloads.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key   string          `gorm:"type:text;not null;uniqueIndex"` // Config key.
	Value json.RawMessage `gorm:"type:jsonb"`                     // Config value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
