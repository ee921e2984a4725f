package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/tempbox/tempbox-backend/internal/repository"
)

// SweepResult reports what one sweep removed
type SweepResult struct {
	MailboxesDeleted int64
	MessagesDeleted  int64
}

// Sweeper periodically drops expired mailboxes and over-age messages.
// Mailbox expiry and message-age retention are independent policies: a
// message can age out of a mailbox that is itself still live.
type Sweeper struct {
	mailboxes        repository.MailboxRepository
	messages         repository.MessageRepository
	interval         time.Duration
	messageRetention time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// NewSweeper creates a Sweeper. A zero messageRetention disables the
// message-age pass.
func NewSweeper(
	mailboxes repository.MailboxRepository,
	messages repository.MessageRepository,
	interval time.Duration,
	messageRetention time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		mailboxes:        mailboxes,
		messages:         messages,
		interval:         interval,
		messageRetention: messageRetention,
		logger:           logger,
		now:              time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("message_retention", s.messageRetention),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			result, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error("sweep failed", slog.Any("error", err))
				continue
			}
			if result.MailboxesDeleted > 0 || result.MessagesDeleted > 0 {
				s.logger.Info("sweep completed",
					slog.Int64("mailboxes_deleted", result.MailboxesDeleted),
					slog.Int64("messages_deleted", result.MessagesDeleted),
				)
			}
		}
	}
}

// RunOnce performs a single sweep. Expiry is re-evaluated inside the
// deletes themselves, so rows renewed since the tick fired survive.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now().UTC()

	mailboxes, err := s.mailboxes.DeleteExpired(ctx, now)
	if err != nil {
		return result, err
	}
	result.MailboxesDeleted = mailboxes

	if s.messageRetention > 0 {
		messages, err := s.messages.DeleteOlderThan(ctx, now.Add(-s.messageRetention))
		if err != nil {
			return result, err
		}
		result.MessagesDeleted = messages
	}

	return result, nil
}
