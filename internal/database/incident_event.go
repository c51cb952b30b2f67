package database

import "time"

// IncidentEvent links an Incident to the AlertEvents that compose it.
// IsDeduplicated flags repeat occurrences of the same content.
type IncidentEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	IncidentID   uint `gorm:"not null;uniqueIndex:idx_incident_event_pair" json:"incident_id"`
	AlertEventID uint `gorm:"not null;uniqueIndex:idx_incident_event_pair" json:"alert_event_id"`

	IsDeduplicated bool `gorm:"default:false" json:"is_deduplicated"`

	CreatedAt time.Time `json:"created_at"`
}

func (IncidentEvent) TableName() string {
	return "incident_events"
}
