package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/tempbox/tempbox-backend/internal/api/handlers"
	"github.com/tempbox/tempbox-backend/internal/api/middleware"
	"github.com/tempbox/tempbox-backend/internal/limiter"
	"github.com/tempbox/tempbox-backend/internal/repository"
	"github.com/tempbox/tempbox-backend/internal/services"
	ws "github.com/tempbox/tempbox-backend/internal/websocket"
	"gorm.io/gorm"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB        *gorm.DB
	Mailboxes *services.MailboxService
	Messages  repository.MessageRepository
	Limiter   *limiter.Limiter
	Hub       *ws.Hub
	Logger    *slog.Logger

	AdminPassword  string   // empty disables admin auth (development only)
	AllowedOrigins []string // allowed CORS and websocket origins
	AppEnv         string   // "production" strips CORS wildcards
	Domains        []string // mail domains served, used for random addresses
	RateLimit      float64  // requests per second (0 = default)
	RateBurst      int      // burst size for the rate limiter
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware order matters: recover first, then headers, CORS,
	// rate limiting, and finally request logging.
	e.Use(middleware.Recover())
	e.Use(middleware.SecureHeaders())
	e.Use(middleware.SecureCORS(cfg.AllowedOrigins, cfg.AppEnv))
	e.Use(middleware.RateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger))
	if cfg.Logger != nil {
		e.Use(middleware.RequestLogger(cfg.Logger))
	}

	healthHandler := handlers.NewHealthHandler(cfg.DB)
	mailboxHandler := handlers.NewMailboxHandler(cfg.Mailboxes, cfg.Domains)
	messageHandler := handlers.NewMessageHandler(cfg.Mailboxes, cfg.Messages)
	adminHandler := handlers.NewAdminHandler(cfg.Mailboxes, cfg.Limiter, cfg.Logger)
	wsHandler := handlers.NewWSHandler(cfg.Hub, cfg.AllowedOrigins, cfg.Logger)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	// Websocket endpoint for live inbox updates
	e.GET("/ws", wsHandler.Connect)

	api := e.Group("/api")

	// Mailbox routes, addressed by email address. Reads and mutations
	// authenticate per request with the mailbox access token.
	mailboxes := api.Group("/mailboxes")
	mailboxes.POST("", mailboxHandler.Create)
	mailboxes.POST("/random", mailboxHandler.CreateRandom)
	mailboxes.POST("/claim", mailboxHandler.Claim)
	mailboxes.GET("/:address", mailboxHandler.Get)
	mailboxes.POST("/:address/token", mailboxHandler.Token)
	mailboxes.POST("/:address/rotate-key", mailboxHandler.RotateKey)
	mailboxes.POST("/:address/renew", mailboxHandler.Renew)
	mailboxes.PUT("/:address/whitelist", mailboxHandler.UpdateWhitelist)
	mailboxes.DELETE("/:address", mailboxHandler.Delete)

	// Message routes (nested under mailboxes)
	mailboxes.GET("/:address/messages", messageHandler.List)
	mailboxes.GET("/:address/messages/:id", messageHandler.Get)
	mailboxes.PATCH("/:address/messages/:id/read", messageHandler.MarkRead)
	mailboxes.POST("/:address/messages/read-all", messageHandler.MarkAllRead)
	mailboxes.DELETE("/:address/messages/:id", messageHandler.Delete)

	// Admin routes behind password auth with failure banning. Mailbox
	// creation reuses the public handler; the auth middleware is the
	// only difference.
	admin := api.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.AdminPassword, cfg.Limiter, cfg.Logger))
	admin.GET("/mailboxes", adminHandler.ListMailboxes)
	admin.POST("/mailboxes", mailboxHandler.Create)
	admin.GET("/mailboxes/:id", adminHandler.GetMailbox)
	admin.POST("/mailboxes/:id/renew", adminHandler.Renew)
	admin.POST("/mailboxes/:id/active", adminHandler.SetActive)
	admin.PUT("/mailboxes/:id/whitelist", adminHandler.UpdateWhitelist)
	admin.POST("/mailboxes/:id/whitelist-enabled", adminHandler.SetWhitelistEnabled)
	admin.PUT("/mailboxes/:id/domains", adminHandler.UpdateDomains)
	admin.DELETE("/mailboxes/:id", adminHandler.DeleteMailbox)
	admin.GET("/mailboxes/:id/audit", adminHandler.AuditTrail)
	admin.GET("/audit", adminHandler.AuditTrail)
	admin.GET("/stats", adminHandler.Stats)
	admin.GET("/blocked", adminHandler.Blocked)
	admin.DELETE("/blocked/:source", adminHandler.Unblock)
	admin.GET("/limiter", adminHandler.GetLimiterConfig)
	admin.PUT("/limiter", adminHandler.SetLimiterConfig)

	return e
}
