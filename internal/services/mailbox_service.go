package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tempbox/tempbox-backend/internal/errors"
	"github.com/tempbox/tempbox-backend/internal/models"
	"github.com/tempbox/tempbox-backend/internal/repository"
	"github.com/tempbox/tempbox-backend/internal/validator"
)

// MailboxConfig carries the lifecycle policy knobs
type MailboxConfig struct {
	Domains              []string
	DefaultRetentionDays int
	MinRetentionDays     int
	MaxRetentionDays     int
	// ProtectedPattern is matched against the local part of new addresses
	ProtectedPattern string
}

// ProvisionRequest describes an explicit mailbox creation
type ProvisionRequest struct {
	Address          string
	RetentionDays    int // 0 means the configured default
	SenderWhitelist  []string
	WhitelistEnabled bool
	AllowedDomains   []string
	Source           string // remote address or "api"
}

// MailboxService owns mailbox lifecycle: creation, renewal, state toggles,
// key handling and deletion. Admin mutations leave an audit trail.
type MailboxService struct {
	mailboxes repository.MailboxRepository
	messages  repository.MessageRepository
	audits    repository.AuditRepository
	cfg       MailboxConfig
	protected *regexp.Regexp
	logger    *slog.Logger
	now       func() time.Time
}

// NewMailboxService creates a MailboxService. The protected-address pattern
// is compiled here so a bad pattern fails at boot, not per request.
func NewMailboxService(
	mailboxes repository.MailboxRepository,
	messages repository.MessageRepository,
	audits repository.AuditRepository,
	cfg MailboxConfig,
	logger *slog.Logger,
) (*MailboxService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var protected *regexp.Regexp
	if cfg.ProtectedPattern != "" {
		var err error
		protected, err = regexp.Compile(cfg.ProtectedPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid protected address pattern: %w", err)
		}
	}

	return &MailboxService{
		mailboxes: mailboxes,
		messages:  messages,
		audits:    audits,
		cfg:       cfg,
		protected: protected,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Provision creates a mailbox at the requested address. An expired row
// holding the address is replaced atomically; a live one is a conflict.
func (s *MailboxService) Provision(ctx context.Context, req ProvisionRequest) (*models.Mailbox, error) {
	address, err := s.normalizeAddress(req.Address)
	if err != nil {
		return nil, err
	}

	days := req.RetentionDays
	if days == 0 {
		days = s.cfg.DefaultRetentionDays
	}
	if days < s.cfg.MinRetentionDays || days > s.cfg.MaxRetentionDays {
		return nil, fmt.Errorf("retention of %d days: %w", days, apperrors.ErrInvalidRetention)
	}

	if err := validator.ValidateWhitelistRules(req.SenderWhitelist); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidWhitelistRule)
	}

	now := s.now().UTC()
	mailbox := &models.Mailbox{
		ID:               uuid.NewString(),
		Address:          address,
		ExpiresAt:        now.Add(time.Duration(days) * 24 * time.Hour),
		RetentionDays:    days,
		IsActive:         true,
		SenderWhitelist:  models.RuleList(req.SenderWhitelist),
		WhitelistEnabled: req.WhitelistEnabled,
		AllowedDomains:   models.RuleList(req.AllowedDomains),
		AccessToken:      uuid.NewString(),
		MailboxKey:       uuid.NewString(),
		CreatedBySource:  req.Source,
	}

	replaced, err := s.mailboxes.CreateReplacingExpired(ctx, mailbox, now)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, fmt.Errorf("address %s: %w", address, apperrors.ErrMailboxExists)
		}
		return nil, apperrors.Store(err)
	}

	s.logger.Info("mailbox provisioned",
		slog.String("mailbox_id", mailbox.ID),
		slog.String("address", address),
		slog.Int("retention_days", days),
		slog.Bool("replaced_expired", replaced),
	)
	s.writeAudit(ctx, models.AuditActionCreate, mailbox.ID, "", req.Source, map[string]interface{}{
		"address":          address,
		"retention_days":   days,
		"replaced_expired": replaced,
	})

	return mailbox, nil
}

// CreateOrGet returns the live mailbox at the address, creating one with
// default policy when none exists or only an expired row remains.
func (s *MailboxService) CreateOrGet(ctx context.Context, address, source string) (*models.Mailbox, bool, error) {
	normalized, err := s.normalizeAddress(address)
	if err != nil {
		return nil, false, err
	}

	mailbox, err := s.mailboxes.GetByAddress(ctx, normalized)
	switch {
	case err == nil:
		if !mailbox.Expired(s.now().UTC()) {
			s.Touch(ctx, mailbox.ID)
			return mailbox, false, nil
		}
		// expired row: fall through and replace it
	case errors.Is(err, repository.ErrNotFound):
		// fall through and create
	default:
		return nil, false, apperrors.Store(err)
	}

	created, err := s.Provision(ctx, ProvisionRequest{Address: normalized, Source: source})
	if err != nil {
		// lost a race with a concurrent creation; the winner's row serves
		if errors.Is(err, apperrors.ErrMailboxExists) {
			mailbox, err := s.mailboxes.GetByAddress(ctx, normalized)
			if err != nil {
				return nil, false, apperrors.Store(err)
			}
			return mailbox, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

// GetByAddress fetches a mailbox by address
func (s *MailboxService) GetByAddress(ctx context.Context, address string) (*models.Mailbox, error) {
	mailbox, err := s.mailboxes.GetByAddress(ctx, strings.ToLower(strings.TrimSpace(address)))
	if err != nil {
		return nil, s.mapLookupErr(err, address)
	}
	return mailbox, nil
}

// GetByToken fetches a mailbox by access token
func (s *MailboxService) GetByToken(ctx context.Context, token string) (*models.Mailbox, error) {
	mailbox, err := s.mailboxes.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrMailboxNotFound
		}
		return nil, apperrors.Store(err)
	}
	return mailbox, nil
}

// GetByID fetches a mailbox by ID
func (s *MailboxService) GetByID(ctx context.Context, id string) (*models.Mailbox, error) {
	mailbox, err := s.mailboxes.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapLookupErr(err, id)
	}
	return mailbox, nil
}

// Detail returns a mailbox with computed expiry state and message stats
func (s *MailboxService) Detail(ctx context.Context, id string) (*models.MailboxWithStats, error) {
	mailbox, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.mailboxes.Stats(ctx, id)
	if err != nil {
		return nil, apperrors.Store(err)
	}

	return &models.MailboxWithStats{
		Mailbox:      *mailbox,
		IsExpired:    mailbox.Expired(s.now().UTC()),
		MessageCount: stats.MessageCount,
		UnreadCount:  stats.UnreadCount,
	}, nil
}

// List returns mailboxes matching the filter, with stats
func (s *MailboxService) List(ctx context.Context, filter repository.MailboxFilter) ([]models.MailboxWithStats, int64, error) {
	rows, total, err := s.mailboxes.List(ctx, filter, s.now().UTC())
	if err != nil {
		return nil, 0, apperrors.Store(err)
	}
	return rows, total, nil
}

// Renew extends a mailbox's life to now plus the given retention. The new
// expiry always lands after the creation time, so a renewed mailbox is live.
func (s *MailboxService) Renew(ctx context.Context, id string, days int, admin string) (*models.Mailbox, error) {
	if days < s.cfg.MinRetentionDays || days > s.cfg.MaxRetentionDays {
		return nil, fmt.Errorf("retention of %d days: %w", days, apperrors.ErrInvalidRetention)
	}

	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(days) * 24 * time.Hour)
	err := s.mailboxes.UpdateFields(ctx, id, map[string]interface{}{
		"retention_days":   days,
		"expires_at":       expiresAt,
		"updated_by_admin": admin,
	})
	if err != nil {
		return nil, s.mapLookupErr(err, id)
	}

	s.writeAudit(ctx, models.AuditActionRenew, id, admin, "", map[string]interface{}{
		"retention_days": days,
		"expires_at":     expiresAt,
	})
	return s.GetByID(ctx, id)
}

// SetActive enables or disables delivery into the mailbox
func (s *MailboxService) SetActive(ctx context.Context, id string, active bool, admin string) error {
	err := s.mailboxes.UpdateFields(ctx, id, map[string]interface{}{
		"is_active":        active,
		"updated_by_admin": admin,
	})
	if err != nil {
		return s.mapLookupErr(err, id)
	}
	s.writeAudit(ctx, models.AuditActionSetActive, id, admin, "", map[string]interface{}{
		"is_active": active,
	})
	return nil
}

// UpdateWhitelist replaces the sender whitelist and its enabled flag
func (s *MailboxService) UpdateWhitelist(ctx context.Context, id string, rules []string, enabled bool, admin string) error {
	if err := validator.ValidateWhitelistRules(rules); err != nil {
		return fmt.Errorf("%v: %w", err, apperrors.ErrInvalidWhitelistRule)
	}

	err := s.mailboxes.UpdateFields(ctx, id, map[string]interface{}{
		"sender_whitelist":  models.RuleList(rules),
		"whitelist_enabled": enabled,
		"updated_by_admin":  admin,
	})
	if err != nil {
		return s.mapLookupErr(err, id)
	}
	s.writeAudit(ctx, models.AuditActionUpdateWhitelist, id, admin, "", map[string]interface{}{
		"sender_whitelist":  rules,
		"whitelist_enabled": enabled,
	})
	return nil
}

// SetWhitelistEnabled flips the whitelist flag without touching the rules
func (s *MailboxService) SetWhitelistEnabled(ctx context.Context, id string, enabled bool, admin string) error {
	err := s.mailboxes.UpdateFields(ctx, id, map[string]interface{}{
		"whitelist_enabled": enabled,
		"updated_by_admin":  admin,
	})
	if err != nil {
		return s.mapLookupErr(err, id)
	}
	s.writeAudit(ctx, models.AuditActionUpdateWhitelist, id, admin, "", map[string]interface{}{
		"whitelist_enabled": enabled,
	})
	return nil
}

// UpdateAllowedDomains replaces the advisory allowed-domains list
func (s *MailboxService) UpdateAllowedDomains(ctx context.Context, id string, domains []string, admin string) error {
	for _, d := range domains {
		if err := validator.ValidateDomain(d); err != nil {
			return fmt.Errorf("domain %q: %w", d, apperrors.ErrInvalidInput)
		}
	}

	err := s.mailboxes.UpdateFields(ctx, id, map[string]interface{}{
		"allowed_domains":  models.RuleList(domains),
		"updated_by_admin": admin,
	})
	if err != nil {
		return s.mapLookupErr(err, id)
	}
	s.writeAudit(ctx, models.AuditActionUpdateDomains, id, admin, "", map[string]interface{}{
		"allowed_domains": domains,
	})
	return nil
}

// Delete removes a mailbox. Soft deletion disables it; hard deletion drops
// the row and its messages in one transaction.
func (s *MailboxService) Delete(ctx context.Context, id string, soft bool, admin string) error {
	if soft {
		if err := s.SetActive(ctx, id, false, admin); err != nil {
			return err
		}
		s.writeAudit(ctx, models.AuditActionDelete, id, admin, "", map[string]interface{}{
			"soft": true,
		})
		return nil
	}

	if err := s.mailboxes.Delete(ctx, id); err != nil {
		return s.mapLookupErr(err, id)
	}
	s.writeAudit(ctx, models.AuditActionDelete, id, admin, "", map[string]interface{}{
		"soft": false,
	})
	return nil
}

// TokenByKey returns the access token for callers holding the mailbox key.
// The key is the recovery factor: it never travels with normal inbox reads.
func (s *MailboxService) TokenByKey(ctx context.Context, address, key string) (string, error) {
	mailbox, err := s.GetByAddress(ctx, address)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(mailbox.MailboxKey), []byte(key)) != 1 {
		return "", apperrors.ErrInvalidKey
	}
	if mailbox.Expired(s.now().UTC()) {
		return "", apperrors.ErrMailboxExpired
	}
	return mailbox.AccessToken, nil
}

// RotateKey swaps the mailbox key for callers holding the current one
func (s *MailboxService) RotateKey(ctx context.Context, address, currentKey string) (string, error) {
	mailbox, err := s.GetByAddress(ctx, address)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(mailbox.MailboxKey), []byte(currentKey)) != 1 {
		return "", apperrors.ErrInvalidKey
	}
	if mailbox.Expired(s.now().UTC()) {
		return "", apperrors.ErrMailboxExpired
	}

	newKey := uuid.NewString()
	err = s.mailboxes.UpdateFields(ctx, mailbox.ID, map[string]interface{}{
		"mailbox_key": newKey,
	})
	if err != nil {
		return "", apperrors.Store(err)
	}
	s.writeAudit(ctx, models.AuditActionRotateKey, mailbox.ID, "", "", nil)
	return newKey, nil
}

// Touch stamps last_accessed, best effort
func (s *MailboxService) Touch(ctx context.Context, id string) {
	if err := s.mailboxes.UpdateLastAccessed(ctx, id, s.now().UTC()); err != nil {
		s.logger.Debug("failed to touch mailbox", slog.String("mailbox_id", id), slog.Any("error", err))
	}
}

// AuditTrail returns recent audit entries, optionally scoped to a mailbox
func (s *MailboxService) AuditTrail(ctx context.Context, mailboxID string, limit, offset int) ([]models.AuditLog, int64, error) {
	entries, total, err := s.audits.List(ctx, mailboxID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Store(err)
	}
	return entries, total, nil
}

// Stats returns store-wide counters
func (s *MailboxService) Stats(ctx context.Context) (*repository.GlobalStats, error) {
	stats, err := s.mailboxes.GlobalStats(ctx)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return stats, nil
}

// normalizeAddress lowercases, validates format, checks the domain is
// served and the local part is not protected
func (s *MailboxService) normalizeAddress(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if err := validator.ValidateEmail(address); err != nil {
		return "", fmt.Errorf("%v: %w", err, apperrors.ErrInvalidAddress)
	}

	at := strings.LastIndex(address, "@")
	local, domain := address[:at], address[at+1:]

	if len(s.cfg.Domains) > 0 && !s.servesDomain(domain) {
		return "", fmt.Errorf("domain %s is not served here: %w", domain, apperrors.ErrInvalidAddress)
	}
	if s.protected != nil && s.protected.MatchString(local) {
		return "", fmt.Errorf("address %s: %w", address, apperrors.ErrProtectedAddress)
	}
	return address, nil
}

func (s *MailboxService) servesDomain(domain string) bool {
	for _, d := range s.cfg.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

func (s *MailboxService) mapLookupErr(err error, ref string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", ref, apperrors.ErrMailboxNotFound)
	}
	return apperrors.Store(err)
}

// writeAudit records an admin/lifecycle mutation, best effort
func (s *MailboxService) writeAudit(ctx context.Context, action, mailboxID, admin, source string, changes map[string]interface{}) {
	entry := &models.AuditLog{
		ID:         uuid.NewString(),
		Timestamp:  s.now().UTC(),
		Action:     action,
		MailboxID:  mailboxID,
		AdminUser:  admin,
		SourceAddr: source,
	}
	if changes != nil {
		if data, err := json.Marshal(changes); err == nil {
			entry.Changes = string(data)
		}
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry",
			slog.String("action", action),
			slog.String("mailbox_id", mailboxID),
			slog.Any("error", err),
		)
	}
}
