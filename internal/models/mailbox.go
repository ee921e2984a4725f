package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RuleList is a JSON-encoded list of rules stored in a single text column
type RuleList []string

// Value implements driver.Valuer
func (r RuleList) Value() (driver.Value, error) {
	if r == nil {
		r = RuleList{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (r *RuleList) Scan(src interface{}) error {
	if src == nil {
		*r = RuleList{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported rule list source type %T", src)
	}
	if len(data) == 0 {
		*r = RuleList{}
		return nil
	}
	return json.Unmarshal(data, r)
}

// Mailbox represents a disposable email address and its lifecycle state
type Mailbox struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	Address          string     `gorm:"uniqueIndex;not null;size:255" json:"address"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt        time.Time  `gorm:"not null;index" json:"expires_at"`
	RetentionDays    int        `gorm:"not null;default:7" json:"retention_days"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	SenderWhitelist  RuleList   `gorm:"type:text" json:"sender_whitelist"`
	WhitelistEnabled bool       `gorm:"not null;default:false" json:"whitelist_enabled"`
	AllowedDomains   RuleList   `gorm:"type:text" json:"allowed_domains"`
	AccessToken      string     `gorm:"uniqueIndex;not null;size:36" json:"-"`
	MailboxKey       string     `gorm:"not null;size:36" json:"-"`
	LastAccessed     *time.Time `json:"last_accessed,omitempty"`
	CreatedBySource  string     `gorm:"size:64" json:"-"`
	UpdatedByAdmin   string     `gorm:"size:255" json:"-"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Messages []Message `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}

// Expired reports whether the mailbox is past its expiry at the given instant
func (m *Mailbox) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// MailboxWithStats is used for API responses that include computed state
type MailboxWithStats struct {
	Mailbox
	IsExpired    bool  `json:"is_expired"`
	MessageCount int64 `json:"message_count"`
	UnreadCount  int64 `json:"unread_count"`
}
