package models

import "gorm.io/gorm"

// AutoMigrateAll creates or updates every table on db.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&Customer{}, &CustomerItem{}, &Route{}, &Item{},
		&StagedChange{},
		&PendingUpdate{}, &UpdateHistory{},
		&ChangeEvent{},
	)
}
