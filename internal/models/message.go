package models

import (
	"time"
)

// ContentKind distinguishes plain-text from HTML message bodies
type ContentKind string

const (
	ContentKindText ContentKind = "text"
	ContentKindHTML ContentKind = "html"
)

// SentFormattedLayout renders the human-readable receipt time kept on each row
const SentFormattedLayout = "Jan 02 at 15:04:05"

// Message represents an email message received by a mailbox
type Message struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	MailboxID     string      `gorm:"not null;index;size:36" json:"mailbox_id"`
	FromAddress   string      `gorm:"not null;size:255" json:"from_address"`
	ToAddress     string      `gorm:"not null;size:255" json:"to_address"`
	Subject       string      `gorm:"size:998" json:"subject,omitempty"`
	Body          string      `json:"body,omitempty"`
	ContentKind   ContentKind `gorm:"size:8;not null;default:text" json:"content_kind"`
	Timestamp     time.Time   `gorm:"not null;index" json:"timestamp"`
	SentFormatted string      `gorm:"size:32" json:"sent_formatted,omitempty"`
	IsRead        bool        `gorm:"not null;default:false" json:"is_read"`
	// InsertedAt breaks ordering ties between messages that carry the same
	// timestamp; eviction and listing sort by (timestamp, inserted_at).
	InsertedAt int64 `gorm:"autoCreateTime:nano;index" json:"-"`

	// Relationships
	Mailbox Mailbox `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// MessageListItem is a lightweight version for list views
type MessageListItem struct {
	ID            string      `json:"id"`
	MailboxID     string      `json:"mailbox_id"`
	FromAddress   string      `json:"from_address"`
	Subject       string      `json:"subject,omitempty"`
	ContentKind   ContentKind `json:"content_kind"`
	Timestamp     time.Time   `json:"timestamp"`
	SentFormatted string      `json:"sent_formatted,omitempty"`
	IsRead        bool        `json:"is_read"`
}
