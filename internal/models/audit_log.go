package models

import (
	"time"
)

// Audit actions recorded by the lifecycle manager
const (
	AuditActionCreate          = "create"
	AuditActionRenew           = "renew"
	AuditActionSetActive       = "set_active"
	AuditActionUpdateWhitelist = "update_whitelist"
	AuditActionUpdateDomains   = "update_domains"
	AuditActionRotateKey       = "rotate_key"
	AuditActionDelete          = "delete"
	AuditActionUnblock         = "unblock_source"
)

// AuditLog records an administrative mutation against a mailbox
type AuditLog struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`
	Action     string    `gorm:"not null;size:32;index" json:"action"`
	MailboxID  string    `gorm:"size:36;index" json:"mailbox_id,omitempty"`
	AdminUser  string    `gorm:"size:255" json:"admin_user,omitempty"`
	Changes    string    `gorm:"type:text" json:"changes,omitempty"`
	SourceAddr string    `gorm:"size:64" json:"source_addr,omitempty"`
}

// TableName returns the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
