// Package legacy imports mailboxes from the JSON inbox file format the
// service used before it moved to a relational store.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tempbox/tempbox-backend/internal/models"
	"github.com/tempbox/tempbox-backend/internal/repository"
)

const defaultRetentionDays = 7

// legacyEmail mirrors one message entry of the old inbox file. Field names
// kept the capitalization of the original format.
type legacyEmail struct {
	ID          string  `json:"id"`
	From        string  `json:"From"`
	To          string  `json:"To"`
	Subject     string  `json:"Subject"`
	Body        string  `json:"Body"`
	ContentType string  `json:"ContentType"`
	Timestamp   float64 `json:"Timestamp"`
	Sent        string  `json:"Sent"`
}

// legacyMailbox is the newer file layout with mailbox metadata. The older
// layout is a bare array of emails.
type legacyMailbox struct {
	CreatedAt       int64         `json:"created_at"`
	ExpiresAt       int64         `json:"expires_at"`
	SenderWhitelist []string      `json:"sender_whitelist"`
	Emails          []legacyEmail `json:"emails"`
}

// Result summarizes an import run
type Result struct {
	MailboxesImported int
	MessagesImported  int
	Errors            []string
}

// Importer reads a legacy inbox file into the store
type Importer struct {
	mailboxes repository.MailboxRepository
	messages  repository.MessageRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewImporter creates an Importer
func NewImporter(mailboxes repository.MailboxRepository, messages repository.MessageRepository, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		mailboxes: mailboxes,
		messages:  messages,
		logger:    logger,
		now:       time.Now,
	}
}

// ImportFile reads the legacy JSON file and creates every mailbox and
// message it holds. Mailboxes that already exist are skipped. Failures on
// individual entries are collected, not fatal.
func (i *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	var result Result

	raw, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("failed to read legacy inbox file: %w", err)
	}

	var inboxes map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inboxes); err != nil {
		return result, fmt.Errorf("failed to parse legacy inbox file: %w", err)
	}

	for address, entry := range inboxes {
		if err := i.importMailbox(ctx, address, entry, &result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("mailbox %s: %v", address, err))
		}
	}

	i.logger.Info("legacy import finished",
		slog.Int("mailboxes", result.MailboxesImported),
		slog.Int("messages", result.MessagesImported),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (i *Importer) importMailbox(ctx context.Context, address string, entry json.RawMessage, result *Result) error {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || !strings.Contains(address, "@") {
		return errors.New("not a valid address")
	}

	// Existing mailboxes win over the file
	_, err := i.mailboxes.GetByAddress(ctx, address)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	box, err := decodeMailbox(entry)
	if err != nil {
		return err
	}

	now := i.now().UTC()
	createdAt := now
	if box.CreatedAt > 0 {
		createdAt = time.Unix(box.CreatedAt, 0).UTC()
	}
	expiresAt := createdAt.Add(defaultRetentionDays * 24 * time.Hour)
	if box.ExpiresAt > 0 {
		expiresAt = time.Unix(box.ExpiresAt, 0).UTC()
	}
	retentionDays := int(expiresAt.Sub(createdAt).Hours() / 24)
	if retentionDays < 1 {
		retentionDays = 1
	}

	mailbox := &models.Mailbox{
		ID:               uuid.NewString(),
		Address:          address,
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
		RetentionDays:    retentionDays,
		IsActive:         true,
		SenderWhitelist:  box.SenderWhitelist,
		WhitelistEnabled: len(box.SenderWhitelist) > 0,
		AccessToken:      uuid.NewString(),
		MailboxKey:       uuid.NewString(),
		CreatedBySource:  "legacy-import",
	}
	if err := i.mailboxes.Create(ctx, mailbox); err != nil {
		return err
	}
	result.MailboxesImported++

	for _, email := range box.Emails {
		if err := i.importMessage(ctx, mailbox.ID, address, email); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("message %s in %s: %v", email.ID, address, err))
			continue
		}
		result.MessagesImported++
	}
	return nil
}

func (i *Importer) importMessage(ctx context.Context, mailboxID, address string, email legacyEmail) error {
	id := email.ID
	if id == "" {
		id = uuid.NewString()
	}

	timestamp := i.now().UTC()
	if email.Timestamp > 0 {
		timestamp = time.Unix(int64(email.Timestamp), 0).UTC()
	}

	contentKind := models.ContentKindText
	if strings.EqualFold(email.ContentType, "html") {
		contentKind = models.ContentKindHTML
	}

	to := email.To
	if to == "" {
		to = address
	}

	return i.messages.Create(ctx, &models.Message{
		ID:            id,
		MailboxID:     mailboxID,
		FromAddress:   email.From,
		ToAddress:     to,
		Subject:       email.Subject,
		Body:          email.Body,
		ContentKind:   contentKind,
		Timestamp:     timestamp,
		SentFormatted: email.Sent,
	})
}

// decodeMailbox handles both file layouts: a bare email array (oldest) and
// an object carrying mailbox metadata.
func decodeMailbox(entry json.RawMessage) (*legacyMailbox, error) {
	var emails []legacyEmail
	if err := json.Unmarshal(entry, &emails); err == nil {
		return &legacyMailbox{Emails: emails}, nil
	}

	var box legacyMailbox
	if err := json.Unmarshal(entry, &box); err != nil {
		return nil, fmt.Errorf("unrecognized mailbox entry: %w", err)
	}
	return &box, nil
}
