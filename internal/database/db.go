package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance, mirroring the teacher's singleton so
// background sweepers that are not explicitly constructed with a *gorm.DB
// (tests always inject one) can still reach it.
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database.
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("[database] connection established")
	return nil
}

// AutoMigrate runs schema migrations for every model in §3, then enforces
// the partial unique index that makes "at most one live incident per
// fingerprint" a storage-layer guarantee rather than application logic
// (§9 "Stable uniqueness").
func AutoMigrate() error {
	return AutoMigrateOn(DB)
}

// AutoMigrateOn runs the same migrations against an arbitrary *gorm.DB,
// so tests can target an in-memory SQLite database.
func AutoMigrateOn(db *gorm.DB) error {
	log.Println("[database] running migrations...")

	err := db.AutoMigrate(
		&RawEmail{},
		&AlertEvent{},
		&Incident{},
		&IncidentEvent{},
		&MaintenanceWindow{},
		&MaintenanceMatch{},
		&PatternCache{},
		&PatternExtractionLog{},
		&QuarantineEvent{},
		&DeadLetterEntry{},
		&IdempotencyKey{},
		&FolderCursor{},
		&ConfigVersion{},
		&NotifySettings{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := ensurePartialUniqueIndexes(db); err != nil {
		return fmt.Errorf("failed to create partial unique indexes: %w", err)
	}

	log.Println("[database] migrations completed successfully")
	return nil
}

// ensurePartialUniqueIndexes creates indexes GORM struct tags cannot
// express. Both the Postgres and SQLite dialects used across environments
// (production and tests respectively) support partial indexes with a WHERE
// clause, so the same statement works for both.
func ensurePartialUniqueIndexes(db *gorm.DB) error {
	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_live_fingerprint
			ON incidents (fingerprint_v2)
			WHERE status IN ('open', 'acknowledged', 'resolving')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_maintenance_window_external
			ON maintenance_windows (source, external_event_id)
			WHERE external_event_id IS NOT NULL AND external_event_id != ''`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// InitializeDefaults creates default singleton records if they don't exist.
func InitializeDefaults() error {
	return InitializeDefaultsOn(DB)
}

// InitializeDefaultsOn seeds defaults on an arbitrary *gorm.DB.
func InitializeDefaultsOn(db *gorm.DB) error {
	log.Println("[database] initializing default records...")

	var count int64
	db.Model(&NotifySettings{}).Count(&count)
	if count == 0 {
		if err := db.Create(&NotifySettings{Enabled: false}).Error; err != nil {
			return fmt.Errorf("failed to create default notify settings: %w", err)
		}
		log.Println("[database] created default notify settings (disabled)")
	}

	return nil
}

// GetDB returns the global database instance.
func GetDB() *gorm.DB {
	return DB
}

// Close closes the global database connection.
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetNotifySettings retrieves the notification-sink settings.
func GetNotifySettings(db *gorm.DB) (*NotifySettings, error) {
	var settings NotifySettings
	if err := db.First(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateNotifySettings updates the notification-sink settings.
func UpdateNotifySettings(db *gorm.DB, settings *NotifySettings) error {
	return db.Model(&NotifySettings{}).Where("id = ?", settings.ID).Updates(settings).Error
}
