package database

import "time"

// QuarantineEvent holds an extraction that failed validation or scored
// below the confidence threshold, pending human review.
type QuarantineEvent struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"uniqueIndex;size:36;not null" json:"uuid"`

	RawEmailID uint `gorm:"not null;index" json:"raw_email_id"`

	CandidateExtraction JSONB   `gorm:"type:jsonb" json:"candidate_extraction"`
	Confidence          float64 `json:"confidence"`
	Reason              string  `gorm:"type:text" json:"reason"`

	ReviewOutcome ReviewOutcome `gorm:"type:varchar(16);not null;default:'pending';index" json:"review_outcome"`
	ReviewedBy    string        `gorm:"size:255" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time    `json:"reviewed_at,omitempty"`
	ReviewNote    string        `gorm:"type:text" json:"review_note,omitempty"`
	EditedData    JSONB         `gorm:"type:jsonb" json:"edited_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (QuarantineEvent) TableName() string {
	return "quarantine_events"
}

// IsPending reports whether this entry still awaits human review.
func (q *QuarantineEvent) IsPending() bool {
	return q.ReviewOutcome == ReviewPending
}
