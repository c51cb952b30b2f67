package database

import "time"

// IdempotencyKey is a reservation token that makes a processing step
// exactly-once against retries. Keys expire after 24 hours; a `processing`
// reservation older than a stale threshold may be reclaimed.
type IdempotencyKey struct {
	Key string `gorm:"primaryKey;size:64" json:"key"`

	ResultJSON JSONB             `gorm:"column:result_json;type:jsonb" json:"result,omitempty"`
	Status     IdempotencyStatus `gorm:"type:varchar(16);not null;default:'processing'" json:"status"`

	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (IdempotencyKey) TableName() string {
	return "idempotency_keys"
}

// Stale reports whether a processing reservation is old enough to reclaim.
func (k *IdempotencyKey) Stale(staleAfter time.Duration, now time.Time) bool {
	return k.Status == IdempotencyProcessing && now.Sub(k.UpdatedAt) > staleAfter
}

// FolderCursor is per-folder resumable ingestion state.
type FolderCursor struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Folder string `gorm:"uniqueIndex;size:255;not null" json:"folder"`

	LastUID         uint64     `gorm:"not null;default:0" json:"last_uid"`
	LastPollAt      *time.Time `json:"last_poll_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastError       string     `gorm:"type:text" json:"last_error,omitempty"`
	ErrorCount      int        `gorm:"not null;default:0" json:"error_count"`
	EmailsProcessed int64      `gorm:"not null;default:0" json:"emails_processed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (FolderCursor) TableName() string {
	return "folder_cursors"
}
