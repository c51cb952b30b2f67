package database

import "time"

// NotifySettings stores the configuration for the narrow notification-sink
// interface described in §4.5/§4.6 (severity escalations into
// critical/high "must be emitted to any notification sink"). Adapted from
// the teacher's SlackSettings; the core only ever calls the interface in
// internal/notify, never this struct directly.
type NotifySettings struct {
	ID uint `gorm:"primaryKey" json:"id"`

	SlackBotToken      string `gorm:"type:text" json:"-"`
	SlackSigningSecret string `gorm:"type:text" json:"-"`
	SlackAlertsChannel string `gorm:"type:varchar(255)" json:"slack_alerts_channel"`
	Enabled            bool   `gorm:"default:false" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NotifySettings) TableName() string {
	return "notify_settings"
}

// IsConfigured reports whether the Slack sink has the tokens it needs.
func (s *NotifySettings) IsConfigured() bool {
	return s.SlackBotToken != "" && s.SlackAlertsChannel != ""
}

// IsActive reports whether the sink is both enabled and configured.
func (s *NotifySettings) IsActive() bool {
	return s.Enabled && s.IsConfigured()
}
