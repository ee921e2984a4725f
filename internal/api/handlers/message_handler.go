package handlers

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/tempbox/tempbox-backend/internal/api/response"
	apperrors "github.com/tempbox/tempbox-backend/internal/errors"
	"github.com/tempbox/tempbox-backend/internal/repository"
	"github.com/tempbox/tempbox-backend/internal/services"
	"github.com/tempbox/tempbox-backend/internal/validator"
)

// MessageHandler handles message HTTP requests
type MessageHandler struct {
	mailboxes *services.MailboxService
	messages  repository.MessageRepository
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(mailboxes *services.MailboxService, messages repository.MessageRepository) *MessageHandler {
	return &MessageHandler{
		mailboxes: mailboxes,
		messages:  messages,
	}
}

// List handles GET /api/mailboxes/:address/messages
func (h *MessageHandler) List(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset = validator.ValidatePagination(limit, offset)

	items, total, err := h.messages.ListByMailbox(c.Request().Context(), mailbox.ID, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	h.mailboxes.Touch(c.Request().Context(), mailbox.ID)

	return response.Paginated(c, items, total, limit, offset)
}

// Get handles GET /api/mailboxes/:address/messages/:id
func (h *MessageHandler) Get(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.messages.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.Error(c, apperrors.ErrMessageNotFound)
		}
		return response.Error(c, err)
	}
	if message.MailboxID != mailbox.ID {
		return response.Error(c, apperrors.ErrMessageNotFound)
	}

	// Reading a message marks it read
	if !message.IsRead {
		if err := h.messages.SetRead(c.Request().Context(), message.ID, true); err == nil {
			message.IsRead = true
		}
	}

	h.mailboxes.Touch(c.Request().Context(), mailbox.ID)

	return response.Success(c, message)
}

// MarkRead handles PATCH /api/mailboxes/:address/messages/:id/read
func (h *MessageHandler) MarkRead(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	var req struct {
		Read *bool `json:"read"`
	}
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}

	message, err := h.messages.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil || message.MailboxID != mailbox.ID {
		return response.Error(c, apperrors.ErrMessageNotFound)
	}

	if err := h.messages.SetRead(c.Request().Context(), message.ID, read); err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, map[string]bool{"read": read}, "message updated")
}

// MarkAllRead handles POST /api/mailboxes/:address/messages/read-all
func (h *MessageHandler) MarkAllRead(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	updated, err := h.messages.MarkAllRead(c.Request().Context(), mailbox.ID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int64{"updated": updated})
}

// Delete handles DELETE /api/mailboxes/:address/messages/:id
func (h *MessageHandler) Delete(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.messages.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil || message.MailboxID != mailbox.ID {
		return response.Error(c, apperrors.ErrMessageNotFound)
	}

	if err := h.messages.Delete(c.Request().Context(), message.ID); err != nil {
		return response.Error(c, err)
	}
	return response.NoContent(c)
}

