package smtp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/tempbox/tempbox-backend/internal/models"
	"github.com/tempbox/tempbox-backend/internal/services"
)

// Session implements the go-smtp Session interface
type Session struct {
	backend    *Backend
	remoteAddr string
	from       string
	recipients []string
}

// NewSession creates a new SMTP session
func NewSession(backend *Backend, remoteAddr string) *Session {
	return &Session{
		backend:    backend,
		remoteAddr: remoteAddr,
		recipients: make([]string, 0),
	}
}

// AuthPlain handles PLAIN authentication (not required for receiving)
func (s *Session) AuthPlain(username, password string) error {
	return nil
}

// Mail handles the MAIL FROM command
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	s.backend.logger.Debug("MAIL FROM", slog.String("from", from))
	return nil
}

// Rcpt handles the RCPT TO command. Only the address syntax is checked
// here; mailbox state is evaluated at DATA time, once the sender is known.
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	address, err := normalizeRecipient(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	s.recipients = append(s.recipients, address)
	s.backend.logger.Debug("RCPT TO", slog.String("to", address))
	return nil
}

// Data handles the DATA command. Each recipient is admitted independently:
// the transaction succeeds when at least one recipient accepted the
// message, and reports the first rejection otherwise.
func (s *Session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	parsed, err := ParseEmail(r)
	if err != nil {
		s.backend.logger.Error("failed to parse email", slog.Any("error", err))
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Failed to parse email",
		}
	}

	// envelope sender as fallback when the header carries none
	if parsed.SenderEmail == "" {
		parsed.SenderEmail = s.from
	}

	ctx := context.Background()
	accepted := 0
	var firstRejection *services.Outcome

	for _, recipient := range s.recipients {
		outcome := s.backend.ingest.Ingest(ctx, s.remoteAddr, s.buildMessage(parsed, recipient))
		if outcome.Accepted {
			accepted++
		} else if firstRejection == nil {
			rejection := outcome
			firstRejection = &rejection
		}
	}

	s.backend.logger.Info("email received",
		slog.String("from", parsed.SenderEmail),
		slog.Int("recipients", len(s.recipients)),
		slog.Int("accepted", accepted),
		slog.String("subject", parsed.Subject),
	)

	if accepted == 0 && firstRejection != nil {
		return rejectionError(*firstRejection)
	}
	return nil
}

// buildMessage materializes one stored row for a single recipient
func (s *Session) buildMessage(parsed *ParsedEmail, recipient string) *models.Message {
	now := time.Now().UTC()
	return &models.Message{
		ID:            uuid.NewString(),
		FromAddress:   parsed.SenderEmail,
		ToAddress:     recipient,
		Subject:       parsed.Subject,
		Body:          parsed.Body,
		ContentKind:   parsed.ContentKind,
		Timestamp:     now,
		SentFormatted: now.Format(models.SentFormattedLayout),
	}
}

// rejectionError maps a pipeline rejection onto an SMTP reply. Transient
// store failures get a 4xx so the sender retries; policy rejections are
// permanent.
func rejectionError(outcome services.Outcome) *smtp.SMTPError {
	if outcome.Temporary() {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary local error, try again later",
		}
	}

	switch outcome.Reason {
	case services.ReasonMailboxNotFound:
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Mailbox not found",
		}
	case services.ReasonMailboxExpired:
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Mailbox has expired",
		}
	case services.ReasonMailboxDisabled:
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 2, 1},
			Message:      "Mailbox is disabled",
		}
	case services.ReasonSenderNotWhitelisted:
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Sender not permitted for this mailbox",
		}
	case services.ReasonSourceNotAllowed:
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Delivery not permitted from this host",
		}
	default:
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 0, 0},
			Message:      "Delivery failed",
		}
	}
}

// Reset resets the session state
func (s *Session) Reset() {
	s.from = ""
	s.recipients = make([]string, 0)
}

// Logout handles the end of the session
func (s *Session) Logout() error {
	return nil
}

// normalizeRecipient strips angle brackets and lowercases the address
func normalizeRecipient(address string) (string, error) {
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	address = strings.TrimSpace(address)

	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid email address: %s", address)
	}

	return strings.ToLower(address), nil
}
