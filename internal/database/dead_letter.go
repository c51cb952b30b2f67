package database

import "time"

// DeadLetterEntry is a retry buffer entry for a processing step that threw
// after exhausting local retries.
type DeadLetterEntry struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"uniqueIndex;size:36;not null" json:"uuid"`

	EventType string `gorm:"size:128;not null;index" json:"event_type"`
	Payload   JSONB  `gorm:"type:jsonb" json:"payload"`
	ErrorText string `gorm:"type:text" json:"error_text"`

	RetryCount int `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries int `gorm:"not null;default:5" json:"max_retries"`

	NextRetryAt time.Time `gorm:"not null;index" json:"next_retry_at"`
	Status      DLQStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DeadLetterEntry) TableName() string {
	return "dead_letter_entries"
}

// Exhausted reports whether the entry has used up its retry budget.
func (d *DeadLetterEntry) Exhausted() bool {
	return d.RetryCount >= d.MaxRetries
}
