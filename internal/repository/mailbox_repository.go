package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tempbox/tempbox-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MailboxFilter narrows admin listings
type MailboxFilter struct {
	Search string // matches address substring
	Status string // "", "active", "disabled", "expired"
	Limit  int
	Offset int
}

// MailboxStats summarizes a single mailbox's inbox
type MailboxStats struct {
	MessageCount    int64      `json:"message_count"`
	UnreadCount     int64      `json:"unread_count"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
}

// GlobalStats summarizes the whole store for the admin dashboard
type GlobalStats struct {
	Mailboxes       int64 `json:"mailboxes"`
	ActiveMailboxes int64 `json:"active_mailboxes"`
	Messages        int64 `json:"messages"`
	UnreadMessages  int64 `json:"unread_messages"`
}

// MailboxRepository defines the interface for mailbox data access
type MailboxRepository interface {
	Create(ctx context.Context, mailbox *models.Mailbox) error
	CreateReplacingExpired(ctx context.Context, mailbox *models.Mailbox, now time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Mailbox, error)
	GetByAddress(ctx context.Context, address string) (*models.Mailbox, error)
	GetByToken(ctx context.Context, token string) (*models.Mailbox, error)
	List(ctx context.Context, filter MailboxFilter, now time.Time) ([]models.MailboxWithStats, int64, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateLastAccessed(ctx context.Context, id string, now time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, id string) (*MailboxStats, error)
	GlobalStats(ctx context.Context) (*GlobalStats, error)
}

// mailboxRepository implements MailboxRepository using GORM
type mailboxRepository struct {
	db *gorm.DB
}

// NewMailboxRepository creates a new MailboxRepository instance
func NewMailboxRepository(db *gorm.DB) MailboxRepository {
	return &mailboxRepository{db: db}
}

// Create creates a new mailbox
func (r *mailboxRepository) Create(ctx context.Context, mailbox *models.Mailbox) error {
	result := r.db.WithContext(ctx).Create(mailbox)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return fmt.Errorf("mailbox with address '%s' already exists: %w", mailbox.Address, ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create mailbox: %w", result.Error)
	}
	return nil
}

// CreateReplacingExpired creates a mailbox, replacing any expired row that
// still holds the address. The existing row and its messages go away in the
// same transaction as the insert, so a live row either survives untouched or
// is swapped out whole. Returns whether an expired row was replaced.
// An address held by a non-expired row yields ErrDuplicateEntry.
func (r *mailboxRepository) CreateReplacingExpired(ctx context.Context, mailbox *models.Mailbox, now time.Time) (bool, error) {
	replaced := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Mailbox
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("address = ?", mailbox.Address).First(&existing).Error
		switch {
		case err == nil:
			if !existing.Expired(now) {
				return fmt.Errorf("mailbox with address '%s' already exists: %w", mailbox.Address, ErrDuplicateEntry)
			}
			if err := tx.Where("mailbox_id = ?", existing.ID).Delete(&models.Message{}).Error; err != nil {
				return fmt.Errorf("failed to delete messages of expired mailbox: %w", err)
			}
			if err := tx.Where("id = ?", existing.ID).Delete(&models.Mailbox{}).Error; err != nil {
				return fmt.Errorf("failed to delete expired mailbox: %w", err)
			}
			replaced = true
		case errors.Is(err, gorm.ErrRecordNotFound):
			// address is free
		default:
			return fmt.Errorf("failed to check existing mailbox: %w", err)
		}

		if err := tx.Create(mailbox).Error; err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("mailbox with address '%s' already exists: %w", mailbox.Address, ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to create mailbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

// GetByID retrieves a mailbox by its ID
func (r *mailboxRepository) GetByID(ctx context.Context, id string) (*models.Mailbox, error) {
	return r.getBy(ctx, "id = ?", id)
}

// GetByAddress retrieves a mailbox by its email address
func (r *mailboxRepository) GetByAddress(ctx context.Context, address string) (*models.Mailbox, error) {
	return r.getBy(ctx, "address = ?", address)
}

// GetByToken retrieves a mailbox by its access token
func (r *mailboxRepository) GetByToken(ctx context.Context, token string) (*models.Mailbox, error) {
	return r.getBy(ctx, "access_token = ?", token)
}

func (r *mailboxRepository) getBy(ctx context.Context, query string, arg interface{}) (*models.Mailbox, error) {
	var mailbox models.Mailbox
	result := r.db.WithContext(ctx).Where(query, arg).First(&mailbox)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox: %w", result.Error)
	}
	return &mailbox, nil
}

// List retrieves mailboxes with message stats, filtered and paginated
func (r *mailboxRepository) List(ctx context.Context, filter MailboxFilter, now time.Time) ([]models.MailboxWithStats, int64, error) {
	base := r.db.WithContext(ctx).Model(&models.Mailbox{})
	if filter.Search != "" {
		base = base.Where("address LIKE ?", "%"+filter.Search+"%")
	}
	switch filter.Status {
	case "active":
		base = base.Where("is_active = ? AND expires_at >= ?", true, now)
	case "disabled":
		base = base.Where("is_active = ?", false)
	case "expired":
		base = base.Where("expires_at < ?", now)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count mailboxes: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows []models.Mailbox
	if err := base.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	results := make([]models.MailboxWithStats, 0, len(rows))
	for _, row := range rows {
		stats, err := r.Stats(ctx, row.ID)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, models.MailboxWithStats{
			Mailbox:      row,
			IsExpired:    row.Expired(now),
			MessageCount: stats.MessageCount,
			UnreadCount:  stats.UnreadCount,
		})
	}
	return results, total, nil
}

// UpdateFields applies a partial update to a mailbox in a single statement
func (r *mailboxRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update mailbox: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastAccessed updates the last_accessed timestamp for a mailbox
func (r *mailboxRepository) UpdateLastAccessed(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).Where("id = ?", id).Update("last_accessed", now)
	if result.Error != nil {
		return fmt.Errorf("failed to update last accessed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a mailbox and its messages in one transaction
func (r *mailboxRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mailbox_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete mailbox messages: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&models.Mailbox{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete mailbox: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteExpired removes every mailbox whose expiry is in the past, together
// with its messages. Expiry is re-checked inside the DELETE itself, so a
// mailbox renewed between scheduling and execution survives.
func (r *mailboxRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"DELETE FROM messages WHERE mailbox_id IN (SELECT id FROM mailboxes WHERE expires_at < ?)", now,
		).Error; err != nil {
			return fmt.Errorf("failed to delete messages of expired mailboxes: %w", err)
		}
		result := tx.Where("expires_at < ?", now).Delete(&models.Mailbox{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete expired mailboxes: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Stats returns message counts and the latest message time for a mailbox
func (r *mailboxRepository) Stats(ctx context.Context, id string) (*MailboxStats, error) {
	stats := &MailboxStats{}

	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("mailbox_id = ?", id).Count(&stats.MessageCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("mailbox_id = ? AND is_read = ?", id, false).Count(&stats.UnreadCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	var last models.Message
	err := r.db.WithContext(ctx).Where("mailbox_id = ?", id).
		Order("timestamp DESC, inserted_at DESC").First(&last).Error
	switch {
	case err == nil:
		stats.LastMessageTime = &last.Timestamp
	case errors.Is(err, gorm.ErrRecordNotFound):
		// empty inbox
	default:
		return nil, fmt.Errorf("failed to get latest message: %w", err)
	}

	return stats, nil
}

// GlobalStats returns store-wide counters
func (r *mailboxRepository) GlobalStats(ctx context.Context) (*GlobalStats, error) {
	stats := &GlobalStats{}

	if err := r.db.WithContext(ctx).Model(&models.Mailbox{}).Count(&stats.Mailboxes).Error; err != nil {
		return nil, fmt.Errorf("failed to count mailboxes: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Mailbox{}).Where("is_active = ?", true).Count(&stats.ActiveMailboxes).Error; err != nil {
		return nil, fmt.Errorf("failed to count active mailboxes: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Count(&stats.Messages).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("is_read = ?", false).Count(&stats.UnreadMessages).Error; err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return stats, nil
}
