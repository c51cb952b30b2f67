package database

import "time"

// AlertEvent is one normalized alert occurrence. Created by the parser;
// the maintenance engine may later flip IsSuppressed/SuppressionReason
// and downgrade Severity in place before the correlator links it to an
// incident, but nothing else mutates it afterward.
type AlertEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UUID       string `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	RawEmailID *uint  `gorm:"index" json:"raw_email_id,omitempty"`

	SourceTool  string `gorm:"size:64;not null;index" json:"source_tool"`
	Environment string `gorm:"size:64" json:"environment"`
	Region      string `gorm:"size:64" json:"region"`
	Host        string `gorm:"size:255;index" json:"host"`
	CheckName   string `gorm:"size:255" json:"check_name"`
	Service     string `gorm:"size:255" json:"service"`

	Severity Severity   `gorm:"type:varchar(16);not null" json:"severity"`
	State    AlertState `gorm:"type:varchar(16);not null" json:"state"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`

	NormalizedSignature string `gorm:"type:text" json:"normalized_signature"`
	FingerprintV2       string `gorm:"size:32;not null;index" json:"fingerprint_v2"`

	Payload JSONB       `gorm:"type:jsonb" json:"payload"`
	Tags    StringSlice `gorm:"type:jsonb" json:"tags"`

	IsSuppressed      bool   `gorm:"default:false" json:"is_suppressed"`
	SuppressionReason string `gorm:"type:text" json:"suppression_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (AlertEvent) TableName() string {
	return "alert_events"
}

// ContentHash is a cheap identity used by the correlator to flag
// near-identical repeat occurrences as deduplicated (see
// IncidentEvent.IsDeduplicated).
func (a *AlertEvent) ContentHash() string {
	return a.FingerprintV2 + "|" + string(a.Severity) + "|" + string(a.State)
}
