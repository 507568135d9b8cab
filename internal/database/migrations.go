package database

import (
	"cachegate/internal/database/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.InvalidationEvent{},
		&models.LogOffset{},
	)
}
