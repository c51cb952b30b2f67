package database

import "time"

// ConfigVersion is a versioned snapshot of one configuration section (see
// §6: parsers, correlation, maintenance, llm, quarantine, dlq). Each reload
// is stored here before activation; rollback selects a prior active
// version for the same section.
type ConfigVersion struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Section string `gorm:"size:64;not null;index:idx_config_version_section" json:"section"`
	Version int    `gorm:"not null" json:"version"`

	Content JSONB `gorm:"type:jsonb;not null" json:"content"`

	IsActive    bool       `gorm:"default:false;index" json:"is_active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (ConfigVersion) TableName() string {
	return "config_versions"
}
