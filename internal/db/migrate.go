package db

import (
	"fmt"

	"github.com/taskfoundry/aigov/internal/models"

	"gorm.io/gorm"
)

// Migrate applies schema migrations for all governance models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Organization{},
		&models.Admin{},
		&models.AgentKey{},
		&models.Quota{},
		&models.Decision{},
		&models.Execution{},
		&models.QuotaArchive{},
		&models.Setting{},
	)
}
