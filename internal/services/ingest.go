package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/tempbox/tempbox-backend/internal/errors"
	"github.com/tempbox/tempbox-backend/internal/models"
	"github.com/tempbox/tempbox-backend/internal/repository"
	"github.com/tempbox/tempbox-backend/internal/sourcecheck"
	"github.com/tempbox/tempbox-backend/internal/whitelist"
)

// RejectReason classifies why an inbound message was refused
type RejectReason string

const (
	ReasonNoRecipient          RejectReason = "no_recipient"
	ReasonSourceNotAllowed     RejectReason = "source_not_allowed"
	ReasonMailboxNotFound      RejectReason = "mailbox_not_found"
	ReasonMailboxExpired       RejectReason = "mailbox_expired"
	ReasonMailboxDisabled      RejectReason = "mailbox_disabled"
	ReasonSenderNotWhitelisted RejectReason = "sender_not_whitelisted"
	ReasonPersistFailure       RejectReason = "persist_failure"
)

// Outcome is the pipeline's verdict on one inbound message
type Outcome struct {
	Accepted bool
	Reason   RejectReason
	Detail   string
}

func accepted() Outcome {
	return Outcome{Accepted: true}
}

func rejected(reason RejectReason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// Temporary reports whether the rejection is worth a retry by the sender
func (o Outcome) Temporary() bool {
	return o.Reason == ReasonPersistFailure
}

// Notifier receives accepted messages for push delivery
type Notifier interface {
	NotifyNewMessage(mailboxID string, message *models.Message)
}

// IngestService runs every inbound message through the admission checks and
// persists the survivors. One bad message never takes down the listener:
// all failures turn into per-message rejections.
type IngestService struct {
	mailboxes   repository.MailboxRepository
	messages    repository.MessageRepository
	source      *sourcecheck.Checker
	matcher     whitelist.Matcher
	maxMessages int
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewIngestService creates an IngestService. notifier may be nil.
func NewIngestService(
	mailboxes repository.MailboxRepository,
	messages repository.MessageRepository,
	source *sourcecheck.Checker,
	matcher whitelist.Matcher,
	maxMessages int,
	notifier Notifier,
	logger *slog.Logger,
) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		mailboxes:   mailboxes,
		messages:    messages,
		source:      source,
		matcher:     matcher,
		maxMessages: maxMessages,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Ingest admits or rejects one inbound message. The message's ToAddress
// names the target mailbox; sourceAddr is the delivering peer. Checks run
// in fixed order: recipient present, source admitted, mailbox exists, not
// expired, active, sender whitelisted. Admission never creates a mailbox.
func (s *IngestService) Ingest(ctx context.Context, sourceAddr string, message *models.Message) Outcome {
	outcome := s.admit(ctx, sourceAddr, message)

	if outcome.Accepted {
		s.logger.Info("message accepted",
			slog.String("message_id", message.ID),
			slog.String("mailbox_id", message.MailboxID),
			slog.String("from", message.FromAddress),
			slog.String("to", message.ToAddress),
		)
		if s.notifier != nil {
			s.notifier.NotifyNewMessage(message.MailboxID, message)
		}
	} else {
		s.logger.Warn("message rejected",
			slog.String("reason", string(outcome.Reason)),
			slog.String("detail", outcome.Detail),
			slog.String("from", message.FromAddress),
			slog.String("to", message.ToAddress),
			slog.String("source", sourceAddr),
		)
	}
	return outcome
}

func (s *IngestService) admit(ctx context.Context, sourceAddr string, message *models.Message) Outcome {
	if message.ToAddress == "" {
		return rejected(ReasonNoRecipient, "message has no recipient")
	}

	if s.source != nil && !s.source.Allowed(sourceAddr) {
		return rejected(ReasonSourceNotAllowed, fmt.Sprintf("source %s is not allowed to deliver", sourceAddr))
	}

	mailbox, err := s.mailboxes.GetByAddress(ctx, message.ToAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return rejected(ReasonMailboxNotFound, fmt.Sprintf("no mailbox at %s", message.ToAddress))
		}
		return rejected(ReasonPersistFailure, "mailbox lookup failed")
	}

	if mailbox.Expired(s.now().UTC()) {
		return rejected(ReasonMailboxExpired, fmt.Sprintf("mailbox %s has expired", message.ToAddress))
	}
	if !mailbox.IsActive {
		return rejected(ReasonMailboxDisabled, fmt.Sprintf("mailbox %s is disabled", message.ToAddress))
	}
	if !s.matcher.Allowed(mailbox.WhitelistEnabled, mailbox.SenderWhitelist, message.FromAddress) {
		return rejected(ReasonSenderNotWhitelisted, fmt.Sprintf("sender %s is not whitelisted", message.FromAddress))
	}

	message.MailboxID = mailbox.ID
	if err := s.messages.CreateEvictingOverflow(ctx, message, s.maxMessages); err != nil {
		return rejected(ReasonPersistFailure, apperrors.Store(err).Error())
	}

	// delivery counts as mailbox activity; failure to stamp is non-fatal
	if err := s.mailboxes.UpdateLastAccessed(ctx, mailbox.ID, s.now().UTC()); err != nil {
		s.logger.Debug("failed to touch mailbox on delivery",
			slog.String("mailbox_id", mailbox.ID), slog.Any("error", err))
	}

	return accepted()
}
