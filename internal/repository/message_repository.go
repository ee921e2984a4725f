package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tempbox/tempbox-backend/internal/models"
	"gorm.io/gorm"
)

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	CreateEvictingOverflow(ctx context.Context, message *models.Message, keep int) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByMailbox(ctx context.Context, mailboxID string, limit, offset int) ([]models.MessageListItem, int64, error)
	SetRead(ctx context.Context, id string, read bool) error
	MarkAllRead(ctx context.Context, mailboxID string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountUnread(ctx context.Context, mailboxID string) (int64, error)
}

// messageRepository implements MessageRepository using GORM
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository instance
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create creates a new message
func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	result := r.db.WithContext(ctx).Create(message)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return fmt.Errorf("message '%s' already exists: %w", message.ID, ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create message: %w", result.Error)
	}
	return nil
}

// CreateEvictingOverflow inserts a message and, in the same transaction,
// drops everything outside the newest `keep` rows of that mailbox. Ordering
// is by message timestamp with insertion order breaking ties.
func (r *messageRepository) CreateEvictingOverflow(ctx context.Context, message *models.Message, keep int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("message '%s' already exists: %w", message.ID, ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to create message: %w", err)
		}

		if keep <= 0 {
			return nil
		}

		if err := tx.Exec(`
			DELETE FROM messages
			WHERE mailbox_id = ?
			AND id NOT IN (
				SELECT id FROM messages
				WHERE mailbox_id = ?
				ORDER BY timestamp DESC, inserted_at DESC
				LIMIT ?
			)`, message.MailboxID, message.MailboxID, keep,
		).Error; err != nil {
			return fmt.Errorf("failed to evict overflow messages: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a message by its ID
func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&message)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message by ID: %w", result.Error)
	}
	return &message, nil
}

// ListByMailbox retrieves messages for a mailbox with pagination, newest first
func (r *messageRepository) ListByMailbox(ctx context.Context, mailboxID string, limit, offset int) ([]models.MessageListItem, int64, error) {
	var total int64

	// Count total messages for this mailbox
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("mailbox_id = ?", mailboxID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var results []models.MessageListItem

	query := `
		SELECT
			m.id,
			m.mailbox_id,
			m.from_address,
			m.subject,
			m.content_kind,
			m.timestamp,
			m.sent_formatted,
			m.is_read
		FROM messages m
		WHERE m.mailbox_id = ?
		ORDER BY m.timestamp DESC, m.inserted_at DESC
		LIMIT ? OFFSET ?
	`

	if err := r.db.WithContext(ctx).Raw(query, mailboxID, limit, offset).Scan(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}

	return results, total, nil
}

// SetRead updates the read flag of a message
func (r *messageRepository) SetRead(ctx context.Context, id string, read bool) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("is_read", read)
	if result.Error != nil {
		return fmt.Errorf("failed to update message read state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread message of a mailbox as read
func (r *messageRepository) MarkAllRead(ctx context.Context, mailboxID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("mailbox_id = ? AND is_read = ?", mailboxID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark messages as read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete deletes a message by its ID
func (r *messageRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Message{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOlderThan removes messages received before the cutoff, regardless of
// which mailbox holds them
func (r *messageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.Message{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountUnread counts unread messages for a mailbox
func (r *messageRepository) CountUnread(ctx context.Context, mailboxID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("mailbox_id = ? AND is_read = ?", mailboxID, false).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", result.Error)
	}
	return count, nil
}
