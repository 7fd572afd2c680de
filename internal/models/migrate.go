package models

import (
	_ "embed"
	"log"

	"gorm.io/gorm"
)

//go:embed schema.sql
var schemaSQL string

// AutoMigrate runs database migrations using raw SQL. The schema is applied
// wholesale; statements that fail because objects already exist are tolerated.
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations using SQL schema...")

	if err := db.Exec(schemaSQL).Error; err != nil {
		log.Printf("SQL schema execution warning: %v", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}
