package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tempbox/tempbox-backend/internal/api"
	"github.com/tempbox/tempbox-backend/internal/config"
	"github.com/tempbox/tempbox-backend/internal/database"
	"github.com/tempbox/tempbox-backend/internal/limiter"
	"github.com/tempbox/tempbox-backend/internal/repository"
	"github.com/tempbox/tempbox-backend/internal/services"
	"github.com/tempbox/tempbox-backend/internal/smtp"
	"github.com/tempbox/tempbox-backend/internal/sourcecheck"
	"github.com/tempbox/tempbox-backend/internal/websocket"
	"github.com/tempbox/tempbox-backend/internal/whitelist"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	cfg.LogConfig(logger)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	mailboxRepo := repository.NewMailboxRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	mailboxSvc, err := services.NewMailboxService(mailboxRepo, messageRepo, auditRepo, services.MailboxConfig{
		Domains:              cfg.Domains,
		DefaultRetentionDays: cfg.DefaultRetentionDays,
		MinRetentionDays:     cfg.MinRetentionDays,
		MaxRetentionDays:     cfg.MaxRetentionDays,
		ProtectedPattern:     cfg.ProtectedAddresses,
	}, logger)
	if err != nil {
		return fmt.Errorf("init mailbox service: %w", err)
	}

	sourceChecker, err := sourcecheck.New(cfg.SourceAllowlistEnabled, cfg.SourceAllowlist)
	if err != nil {
		return fmt.Errorf("init source checker: %w", err)
	}

	matcher := whitelist.NewMatcher(whitelist.Options{
		CaseInsensitive: cfg.WhitelistCaseInsensitive,
	})

	lim := limiter.New(limiter.Config{
		BanDuration:   cfg.BanDuration,
		MaxAttempts:   cfg.MaxFailedAttempts,
		AttemptWindow: cfg.AttemptWindow,
	}, logger)

	hub := websocket.NewHub(logger)
	hub.SetAuthorizer(func(mailboxID, token string) bool {
		mailbox, err := mailboxSvc.GetByToken(context.Background(), token)
		return err == nil && mailbox.ID == mailboxID && !mailbox.Expired(time.Now())
	})
	go hub.Run()

	ingestSvc := services.NewIngestService(
		mailboxRepo,
		messageRepo,
		sourceChecker,
		matcher,
		cfg.MaxMessagesPerMailbox,
		hub,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go lim.Run(ctx, cfg.BanDuration)

	sweeper := services.NewSweeper(mailboxRepo, messageRepo, cfg.SweepInterval(), cfg.MessageRetention, logger)
	go sweeper.Run(ctx)

	origins := splitOrigins(cfg.AllowedOrigins)

	router := api.NewRouter(&api.RouterConfig{
		DB:             db,
		Mailboxes:      mailboxSvc,
		Messages:       messageRepo,
		Limiter:        lim,
		Hub:            hub,
		Logger:         logger,
		AdminPassword:  cfg.AdminPassword,
		AllowedOrigins: origins,
		AppEnv:         cfg.AppEnv,
		Domains:        cfg.Domains,
		RateLimit:      cfg.RateLimitRequests,
		RateBurst:      cfg.RateLimitBurst,
	})

	smtpServer := smtp.NewSecureServer(smtp.NewBackend(ingestSvc, logger), &smtp.ServerConfig{
		Addr:          fmt.Sprintf(":%d", cfg.SMTPPort),
		Domain:        cfg.SMTPDomain,
		AllowInsecure: cfg.AppEnv != "production",
	})

	errCh := make(chan error, 2)

	go func() {
		logger.Info("api server listening", slog.Int("port", cfg.APIPort))
		if err := router.Start(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	go func() {
		logger.Info("smtp server listening", slog.Int("port", cfg.SMTPPort))
		if err := smtpServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("smtp server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failure, shutting down", slog.Any("error", err))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := smtpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("smtp shutdown", slog.Any("error", err))
	}
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", slog.Any("error", err))
	}

	logger.Info("server stopped")
	return nil
}

// newLogger builds the process logger at the configured level
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// splitOrigins parses the comma separated origin list
func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
