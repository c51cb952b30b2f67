package database

import (
	"time"

	"gorm.io/gorm"
)

// Incident is a correlated cluster of alert events; at most one live
// (status in {open, acknowledged, resolving}) per FingerprintV2, enforced
// by a partial unique index created in AutoMigrate.
type Incident struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"uniqueIndex;size:36;not null" json:"uuid"`

	FingerprintV2 string `gorm:"size:32;not null;index" json:"fingerprint_v2"`
	Title         string `gorm:"type:varchar(500)" json:"title"`

	SourceTool  string `gorm:"size:64" json:"source_tool"`
	Environment string `gorm:"size:64" json:"environment"`
	Region      string `gorm:"size:64" json:"region"`
	Host        string `gorm:"size:255" json:"host"`
	CheckName   string `gorm:"size:255" json:"check_name"`
	Service     string `gorm:"size:255" json:"service"`

	Status IncidentStatus `gorm:"type:varchar(32);not null;default:'open';index" json:"status"`

	SeverityCurrent Severity   `gorm:"type:varchar(16);not null" json:"severity_current"`
	SeverityMax     Severity   `gorm:"type:varchar(16);not null" json:"severity_max"`
	LastState       AlertState `gorm:"type:varchar(16);not null" json:"last_state"`

	FirstSeenAt time.Time  `gorm:"not null" json:"first_seen_at"`
	LastSeenAt  time.Time  `gorm:"not null;index" json:"last_seen_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	ResolutionReason string `gorm:"type:varchar(64)" json:"resolution_reason,omitempty"`

	EventCount int `gorm:"not null;default:0" json:"event_count"`
	FlapCount  int `gorm:"not null;default:0" json:"flap_count"`
	IsFlapping bool `gorm:"default:false" json:"is_flapping"`

	LastStateChangeAt time.Time `gorm:"not null" json:"last_state_change_at"`

	IsInMaintenance     bool  `gorm:"default:false;index" json:"is_in_maintenance"`
	MaintenanceWindowID *uint `gorm:"index" json:"maintenance_window_id,omitempty"`

	// AIEnrichment holds opaque enrichment fields written by the external
	// collaborator described in §6; the core never interprets them.
	AIEnrichment JSONB `gorm:"type:jsonb" json:"ai_enrichment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Incident) TableName() string {
	return "incidents"
}

// BeforeCreate initializes LastStateChangeAt if the caller did not set it.
func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.LastStateChangeAt.IsZero() {
		i.LastStateChangeAt = time.Now().UTC()
	}
	return nil
}

// IsLive reports whether the incident currently holds the single live slot
// for its fingerprint.
func (i *Incident) IsLive() bool {
	for _, s := range LiveIncidentStatuses {
		if i.Status == s {
			return true
		}
	}
	return false
}
