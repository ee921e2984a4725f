package handlers

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tempbox/tempbox-backend/internal/api/response"
	apperrors "github.com/tempbox/tempbox-backend/internal/errors"
	"github.com/tempbox/tempbox-backend/internal/models"
	"github.com/tempbox/tempbox-backend/internal/services"
)

// MailboxHandler handles public mailbox HTTP requests
type MailboxHandler struct {
	mailboxes *services.MailboxService
	domains   []string
}

// NewMailboxHandler creates a new MailboxHandler. domains lists the mail
// domains random addresses are provisioned under.
func NewMailboxHandler(mailboxes *services.MailboxService, domains []string) *MailboxHandler {
	return &MailboxHandler{
		mailboxes: mailboxes,
		domains:   domains,
	}
}

// CreateMailboxRequest represents the request body for creating a mailbox
type CreateMailboxRequest struct {
	Address          string   `json:"address"`
	RetentionDays    int      `json:"retention_days"`
	SenderWhitelist  []string `json:"sender_whitelist"`
	WhitelistEnabled bool     `json:"whitelist_enabled"`
}

// CreateRandomMailboxRequest represents the request body for a random mailbox
type CreateRandomMailboxRequest struct {
	Domain        string `json:"domain"`
	RetentionDays int    `json:"retention_days"`
}

// CreatedMailboxResponse carries the credentials that are only ever
// returned at creation time
type CreatedMailboxResponse struct {
	*models.Mailbox
	AccessToken string `json:"access_token"`
	MailboxKey  string `json:"mailbox_key"`
}

// RenewRequest represents the request body for extending a mailbox
type RenewRequest struct {
	RetentionDays int `json:"retention_days"`
}

// WhitelistRequest represents the request body for whitelist updates
type WhitelistRequest struct {
	Rules   []string `json:"rules"`
	Enabled bool     `json:"enabled"`
}

// KeyRequest carries the mailbox key for key-authenticated operations
type KeyRequest struct {
	MailboxKey string `json:"mailbox_key"`
}

// Create handles POST /api/mailboxes
func (h *MailboxHandler) Create(c echo.Context) error {
	var req CreateMailboxRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.Address == "" {
		return response.BadRequest(c, "address is required")
	}

	mailbox, err := h.mailboxes.Provision(c.Request().Context(), services.ProvisionRequest{
		Address:          req.Address,
		RetentionDays:    req.RetentionDays,
		SenderWhitelist:  req.SenderWhitelist,
		WhitelistEnabled: req.WhitelistEnabled,
		Source:           c.RealIP(),
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, &CreatedMailboxResponse{
		Mailbox:     mailbox,
		AccessToken: mailbox.AccessToken,
		MailboxKey:  mailbox.MailboxKey,
	})
}

// CreateRandom handles POST /api/mailboxes/random
func (h *MailboxHandler) CreateRandom(c echo.Context) error {
	var req CreateRandomMailboxRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	domain := req.Domain
	if domain == "" {
		if len(h.domains) == 0 {
			return response.InternalError(c, "no mail domains configured")
		}
		domain = h.domains[0]
	}

	mailbox, err := h.mailboxes.Provision(c.Request().Context(), services.ProvisionRequest{
		Address:       generateRandomString(8) + "@" + domain,
		RetentionDays: req.RetentionDays,
		Source:        c.RealIP(),
	})
	if err != nil {
		// Extremely rare collision, try again
		if errors.Is(err, apperrors.ErrMailboxExists) {
			mailbox, err = h.mailboxes.Provision(c.Request().Context(), services.ProvisionRequest{
				Address:       generateRandomString(8) + "@" + domain,
				RetentionDays: req.RetentionDays,
				Source:        c.RealIP(),
			})
		}
		if err != nil {
			return response.Error(c, err)
		}
	}

	return response.Created(c, &CreatedMailboxResponse{
		Mailbox:     mailbox,
		AccessToken: mailbox.AccessToken,
		MailboxKey:  mailbox.MailboxKey,
	})
}

// Claim handles POST /api/mailboxes/claim. Creates the mailbox when absent
// or expired; an existing live mailbox is returned without its credentials,
// which only ever leave at creation time.
func (h *MailboxHandler) Claim(c echo.Context) error {
	var req CreateMailboxRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.Address == "" {
		return response.BadRequest(c, "address is required")
	}

	mailbox, created, err := h.mailboxes.CreateOrGet(c.Request().Context(), req.Address, c.RealIP())
	if err != nil {
		return response.Error(c, err)
	}

	if created {
		return response.Created(c, &CreatedMailboxResponse{
			Mailbox:     mailbox,
			AccessToken: mailbox.AccessToken,
			MailboxKey:  mailbox.MailboxKey,
		})
	}
	return response.Success(c, mailbox)
}

// Get handles GET /api/mailboxes/:address
func (h *MailboxHandler) Get(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	h.mailboxes.Touch(c.Request().Context(), mailbox.ID)

	detail, err := h.mailboxes.Detail(c.Request().Context(), mailbox.ID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, detail)
}

// Token handles POST /api/mailboxes/:address/token
func (h *MailboxHandler) Token(c echo.Context) error {
	var req KeyRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.MailboxKey == "" {
		return response.BadRequest(c, "mailbox_key is required")
	}

	token, err := h.mailboxes.TokenByKey(c.Request().Context(), c.Param("address"), req.MailboxKey)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"access_token": token})
}

// RotateKey handles POST /api/mailboxes/:address/rotate-key
func (h *MailboxHandler) RotateKey(c echo.Context) error {
	var req KeyRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.MailboxKey == "" {
		return response.BadRequest(c, "mailbox_key is required")
	}

	newKey, err := h.mailboxes.RotateKey(c.Request().Context(), c.Param("address"), req.MailboxKey)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"mailbox_key": newKey})
}

// Renew handles POST /api/mailboxes/:address/renew
func (h *MailboxHandler) Renew(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	var req RenewRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	renewed, err := h.mailboxes.Renew(c.Request().Context(), mailbox.ID, req.RetentionDays, "")
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, renewed)
}

// UpdateWhitelist handles PUT /api/mailboxes/:address/whitelist
func (h *MailboxHandler) UpdateWhitelist(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	var req WhitelistRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.mailboxes.UpdateWhitelist(c.Request().Context(), mailbox.ID, req.Rules, req.Enabled, ""); err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, nil, "whitelist updated")
}

// Delete handles DELETE /api/mailboxes/:address
func (h *MailboxHandler) Delete(c echo.Context) error {
	mailbox, err := authorizeMailbox(c, h.mailboxes)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.mailboxes.Delete(c.Request().Context(), mailbox.ID, false, ""); err != nil {
		return response.Error(c, err)
	}
	return response.NoContent(c)
}

// authorizeMailbox resolves the access token on the request and checks it
// against the :address route parameter. The token may arrive as a bearer
// header or a ?token query parameter.
func authorizeMailbox(c echo.Context, mailboxes *services.MailboxService) (*models.Mailbox, error) {
	token := requestToken(c)
	if token == "" {
		return nil, apperrors.ErrUnauthorized
	}

	mailbox, err := mailboxes.GetByToken(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, apperrors.ErrMailboxNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}

	if mailbox.Address != strings.ToLower(strings.TrimSpace(c.Param("address"))) {
		return nil, apperrors.ErrForbidden
	}
	if mailbox.Expired(time.Now().UTC()) {
		return nil, apperrors.ErrMailboxExpired
	}

	return mailbox, nil
}

// requestToken extracts the mailbox access token from the request
func requestToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return c.QueryParam("token")
}

// generateRandomString generates a random alphanumeric string of given length
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	result := make([]byte, length)
	for i := range result {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		result[i] = charset[n.Int64()]
	}
	return string(result)
}
