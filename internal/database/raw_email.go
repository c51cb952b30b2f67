package database

import "time"

// RawEmail is an immutable record of one ingested message. Once stored the
// content fields are never mutated; ParseStatus advances monotonically
// pending -> {parsed, failed, quarantined}.
type RawEmail struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UUID   string `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Folder string `gorm:"size:255;not null;uniqueIndex:idx_raw_email_folder_uid" json:"folder"`
	UID    uint64 `gorm:"not null;uniqueIndex:idx_raw_email_folder_uid" json:"uid"`

	MessageID   string    `gorm:"size:998;index" json:"message_id"`
	Subject     string    `gorm:"type:text" json:"subject"`
	FromAddress string    `gorm:"size:320" json:"from_address"`
	ToAddresses StringSlice `gorm:"type:jsonb" json:"to_addresses"`
	DateHeader  *time.Time `json:"date_header,omitempty"`
	Headers     HeaderMap `gorm:"type:jsonb" json:"headers"`

	BodyText    string `gorm:"type:text" json:"body_text"`
	BodyHTML    string `gorm:"type:text" json:"body_html"`
	ICSPayload  string `gorm:"type:text" json:"ics_payload,omitempty"`
	Attachments JSONB  `gorm:"type:jsonb" json:"attachments"`

	ReceivedAt time.Time `gorm:"not null;index" json:"received_at"`

	ParseStatus RawEmailParseStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"parse_status"`
	ParseError  string              `gorm:"type:text" json:"parse_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (RawEmail) TableName() string {
	return "raw_emails"
}

// HasCalendarInvite reports whether this message carried a calendar-invite
// payload suitable for maintenance-window detection.
func (r *RawEmail) HasCalendarInvite() bool {
	return r.ICSPayload != ""
}
