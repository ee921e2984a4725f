package handlers

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tempbox/tempbox-backend/internal/api/response"
	"github.com/tempbox/tempbox-backend/internal/limiter"
	seclog "github.com/tempbox/tempbox-backend/internal/logger"
	"github.com/tempbox/tempbox-backend/internal/repository"
	"github.com/tempbox/tempbox-backend/internal/services"
	"github.com/tempbox/tempbox-backend/internal/validator"
)

// AdminHandler handles administrative HTTP requests. All routes using it
// sit behind the admin auth middleware.
type AdminHandler struct {
	mailboxes *services.MailboxService
	limiter   *limiter.Limiter
	security  *seclog.SecurityLogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(mailboxes *services.MailboxService, lim *limiter.Limiter, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		mailboxes: mailboxes,
		limiter:   lim,
		security:  seclog.NewSecurityLoggerWithHandler(logger.Handler()),
	}
}

// AdminRenewRequest represents the admin renew request body
type AdminRenewRequest struct {
	RetentionDays int `json:"retention_days"`
}

// SetActiveRequest represents the enable/disable request body
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// DomainsRequest represents the per-mailbox allowed domains request body
type DomainsRequest struct {
	Domains []string `json:"domains"`
}

// LimiterConfigRequest represents the abuse limiter configuration body.
// Durations are expressed in seconds.
type LimiterConfigRequest struct {
	BanDurationSeconds   int `json:"ban_duration_seconds"`
	MaxAttempts          int `json:"max_attempts"`
	AttemptWindowSeconds int `json:"attempt_window_seconds"`
}

// ListMailboxes handles GET /api/admin/mailboxes
func (h *AdminHandler) ListMailboxes(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset = validator.ValidatePagination(limit, offset)

	filter := repository.MailboxFilter{
		Search: validator.SanitizeString(c.QueryParam("search"), 100),
		Status: c.QueryParam("status"),
		Limit:  limit,
		Offset: offset,
	}

	mailboxes, total, err := h.mailboxes.List(c.Request().Context(), filter)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Paginated(c, mailboxes, total, limit, offset)
}

// GetMailbox handles GET /api/admin/mailboxes/:id
func (h *AdminHandler) GetMailbox(c echo.Context) error {
	detail, err := h.mailboxes.Detail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, detail)
}

// Renew handles POST /api/admin/mailboxes/:id/renew
func (h *AdminHandler) Renew(c echo.Context) error {
	var req AdminRenewRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	mailbox, err := h.mailboxes.Renew(c.Request().Context(), c.Param("id"), req.RetentionDays, adminActor(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, mailbox)
}

// SetActive handles POST /api/admin/mailboxes/:id/active
func (h *AdminHandler) SetActive(c echo.Context) error {
	var req SetActiveRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.mailboxes.SetActive(c.Request().Context(), c.Param("id"), req.Active, adminActor(c)); err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, map[string]bool{"active": req.Active}, "mailbox updated")
}

// WhitelistEnabledRequest represents the whitelist gate toggle body
type WhitelistEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetWhitelistEnabled handles POST /api/admin/mailboxes/:id/whitelist-enabled.
// Flips the enforcement gate without touching the rule list.
func (h *AdminHandler) SetWhitelistEnabled(c echo.Context) error {
	var req WhitelistEnabledRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.mailboxes.SetWhitelistEnabled(c.Request().Context(), c.Param("id"), req.Enabled, adminActor(c)); err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, map[string]bool{"enabled": req.Enabled}, "whitelist gate updated")
}

// UpdateWhitelist handles PUT /api/admin/mailboxes/:id/whitelist
func (h *AdminHandler) UpdateWhitelist(c echo.Context) error {
	var req WhitelistRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.mailboxes.UpdateWhitelist(c.Request().Context(), c.Param("id"), req.Rules, req.Enabled, adminActor(c)); err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, nil, "whitelist updated")
}

// UpdateDomains handles PUT /api/admin/mailboxes/:id/domains
func (h *AdminHandler) UpdateDomains(c echo.Context) error {
	var req DomainsRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.mailboxes.UpdateAllowedDomains(c.Request().Context(), c.Param("id"), req.Domains, adminActor(c)); err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, nil, "allowed domains updated")
}

// DeleteMailbox handles DELETE /api/admin/mailboxes/:id. With ?soft=true the
// mailbox is disabled instead of removed.
func (h *AdminHandler) DeleteMailbox(c echo.Context) error {
	soft := c.QueryParam("soft") == "true"

	if err := h.mailboxes.Delete(c.Request().Context(), c.Param("id"), soft, adminActor(c)); err != nil {
		return response.Error(c, err)
	}
	return response.NoContent(c)
}

// AuditTrail handles GET /api/admin/mailboxes/:id/audit and
// GET /api/admin/audit (no :id means the global trail)
func (h *AdminHandler) AuditTrail(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset = validator.ValidatePagination(limit, offset)

	entries, total, err := h.mailboxes.AuditTrail(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Paginated(c, entries, total, limit, offset)
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(c echo.Context) error {
	stats, err := h.mailboxes.Stats(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, stats)
}

// Blocked handles GET /api/admin/blocked
func (h *AdminHandler) Blocked(c echo.Context) error {
	blocked := h.limiter.Blocked(time.Now())

	type blockedSource struct {
		Source           string `json:"source"`
		RemainingSeconds int    `json:"remaining_seconds"`
	}
	sources := make([]blockedSource, 0, len(blocked))
	for source, remaining := range blocked {
		sources = append(sources, blockedSource{
			Source:           source,
			RemainingSeconds: int(remaining.Seconds()),
		})
	}
	return response.Success(c, sources)
}

// Unblock handles DELETE /api/admin/blocked/:source
func (h *AdminHandler) Unblock(c echo.Context) error {
	source := c.Param("source")
	if source == "" {
		return response.BadRequest(c, "source is required")
	}

	h.limiter.Unblock(source)
	h.security.SourceUnblocked(source, adminActor(c))

	return response.SuccessWithMessage(c, nil, "source unblocked")
}

// GetLimiterConfig handles GET /api/admin/limiter
func (h *AdminHandler) GetLimiterConfig(c echo.Context) error {
	cfg := h.limiter.GetConfig()
	return response.Success(c, LimiterConfigRequest{
		BanDurationSeconds:   int(cfg.BanDuration.Seconds()),
		MaxAttempts:          cfg.MaxAttempts,
		AttemptWindowSeconds: int(cfg.AttemptWindow.Seconds()),
	})
}

// SetLimiterConfig handles PUT /api/admin/limiter
func (h *AdminHandler) SetLimiterConfig(c echo.Context) error {
	var req LimiterConfigRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	cfg := limiter.Config{
		BanDuration:   time.Duration(req.BanDurationSeconds) * time.Second,
		MaxAttempts:   req.MaxAttempts,
		AttemptWindow: time.Duration(req.AttemptWindowSeconds) * time.Second,
	}
	if err := h.limiter.SetConfig(cfg); err != nil {
		return response.BadRequest(c, err.Error())
	}

	h.security.Info("limiter config updated", slog.String("admin", adminActor(c)))
	return response.SuccessWithMessage(c, nil, "limiter config updated")
}

// adminActor names the admin performing the request for the audit trail.
// Single-operator deployments rarely set the header, so fall back to a
// generic actor name.
func adminActor(c echo.Context) string {
	if actor := c.Request().Header.Get("X-Admin-Actor"); actor != "" {
		return validator.SanitizeString(actor, 64)
	}
	return "admin"
}
