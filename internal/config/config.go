package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// Server ports
	APIPort  int
	SMTPPort int

	// Mail domains served by this instance
	SMTPDomain string
	Domains    []string

	// Mailbox lifecycle
	DefaultRetentionDays int
	MinRetentionDays     int
	MaxRetentionDays     int
	ProtectedAddresses   string

	// Message retention
	MessageRetention      time.Duration
	MaxMessagesPerMailbox int

	// Sender whitelist
	WhitelistCaseInsensitive bool

	// Source admission (SMTP peers allowed to create traffic)
	SourceAllowlistEnabled bool
	SourceAllowlist        string

	// Abuse limiter
	BanDuration       time.Duration
	MaxFailedAttempts int
	AttemptWindow     time.Duration

	// Logging
	LogLevel string

	// Security
	AdminPassword  string
	AllowedOrigins string
	AppEnv         string

	// Rate Limiting
	RateLimitRequests float64
	RateLimitBurst    int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	var err error
	if cfg.APIPort, err = intEnv("API_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", 2525); err != nil {
		return nil, err
	}

	cfg.SMTPDomain = os.Getenv("SMTP_DOMAIN")
	if cfg.SMTPDomain == "" {
		cfg.SMTPDomain = "localhost"
	}

	domains := os.Getenv("MAIL_DOMAINS")
	if domains == "" {
		domains = cfg.SMTPDomain
	}
	for _, d := range strings.Split(domains, ",") {
		if d = strings.TrimSpace(strings.ToLower(d)); d != "" {
			cfg.Domains = append(cfg.Domains, d)
		}
	}

	if cfg.DefaultRetentionDays, err = intEnv("DEFAULT_RETENTION_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.MinRetentionDays, err = intEnv("MIN_RETENTION_DAYS", 1); err != nil {
		return nil, err
	}
	if cfg.MaxRetentionDays, err = intEnv("MAX_RETENTION_DAYS", 90); err != nil {
		return nil, err
	}

	cfg.ProtectedAddresses = os.Getenv("PROTECTED_ADDRESSES")
	if cfg.ProtectedAddresses == "" {
		cfg.ProtectedAddresses = "^admin.*"
	}

	// EMAIL_RETENTION_SECONDS overrides EMAIL_RETENTION_DAYS; the
	// seconds-granularity knob exists for fast end-to-end verification.
	if secs, err := intEnv("EMAIL_RETENTION_SECONDS", 0); err != nil {
		return nil, err
	} else if secs > 0 {
		cfg.MessageRetention = time.Duration(secs) * time.Second
	} else {
		days, err := intEnv("EMAIL_RETENTION_DAYS", 7)
		if err != nil {
			return nil, err
		}
		cfg.MessageRetention = time.Duration(days) * 24 * time.Hour
	}

	if cfg.MaxMessagesPerMailbox, err = intEnv("MAX_EMAILS_PER_MAILBOX", 50); err != nil {
		return nil, err
	}

	if cfg.WhitelistCaseInsensitive, err = boolEnv("WHITELIST_CASE_INSENSITIVE", false); err != nil {
		return nil, err
	}

	if cfg.SourceAllowlistEnabled, err = boolEnv("SOURCE_ALLOWLIST_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.SourceAllowlist = os.Getenv("SOURCE_ALLOWLIST")

	banSecs, err := intEnv("BAN_DURATION_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.BanDuration = time.Duration(banSecs) * time.Second

	if cfg.MaxFailedAttempts, err = intEnv("MAX_FAILED_ATTEMPTS", 5); err != nil {
		return nil, err
	}

	windowSecs, err := intEnv("FAILED_ATTEMPT_WINDOW_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.AttemptWindow = time.Duration(windowSecs) * time.Second

	// LOG_LEVEL (default: info)
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Security configuration
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AppEnv = os.Getenv("APP_ENV")
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}

	// Rate limiting configuration
	if rps := os.Getenv("RATE_LIMIT_REQUESTS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimitRequests = v
		}
	} else {
		cfg.RateLimitRequests = 10.0
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if v, err := strconv.Atoi(burst); err == nil {
			cfg.RateLimitBurst = v
		}
	} else {
		cfg.RateLimitBurst = 20
	}

	return cfg, nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Production-specific validation
	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTPPort must be between 1 and 65535")
	}
	if len(c.Domains) == 0 {
		return fmt.Errorf("at least one mail domain must be configured")
	}
	if c.MinRetentionDays < 1 {
		return fmt.Errorf("MinRetentionDays must be at least 1")
	}
	if c.MaxRetentionDays < c.MinRetentionDays {
		return fmt.Errorf("MaxRetentionDays must not be below MinRetentionDays")
	}
	if c.DefaultRetentionDays < c.MinRetentionDays || c.DefaultRetentionDays > c.MaxRetentionDays {
		return fmt.Errorf("DefaultRetentionDays must be between %d and %d", c.MinRetentionDays, c.MaxRetentionDays)
	}
	if c.MaxMessagesPerMailbox < 1 {
		return fmt.Errorf("MaxMessagesPerMailbox must be at least 1")
	}
	if c.MessageRetention <= 0 {
		return fmt.Errorf("MessageRetention must be positive")
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required in production")
	}

	if c.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	// Check for wildcard in production
	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	// Check for sslmode=disable in database URL
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}

	return nil
}

// SweepInterval derives how often the retention sweeper runs. Sub-hour
// message retention halves the interval so short-lived test setups converge
// quickly; otherwise the sweep runs hourly.
func (c *Config) SweepInterval() time.Duration {
	if c.MessageRetention < time.Hour {
		interval := c.MessageRetention / 2
		if interval < 5*time.Second {
			interval = 5 * time.Second
		}
		return interval
	}
	return time.Hour
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.Int("smtp_port", c.SMTPPort),
		slog.String("smtp_domain", c.SMTPDomain),
		slog.Any("domains", c.Domains),
		slog.Int("default_retention_days", c.DefaultRetentionDays),
		slog.Duration("message_retention", c.MessageRetention),
		slog.Int("max_messages_per_mailbox", c.MaxMessagesPerMailbox),
		slog.Bool("source_allowlist_enabled", c.SourceAllowlistEnabled),
		slog.Duration("ban_duration", c.BanDuration),
		slog.Int("max_failed_attempts", c.MaxFailedAttempts),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("admin_password_set", c.AdminPassword != ""),
		slog.Bool("allowed_origins_set", c.AllowedOrigins != ""),
		slog.Float64("rate_limit_rps", c.RateLimitRequests),
		slog.Int("rate_limit_burst", c.RateLimitBurst),
	)
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return v, nil
}

func boolEnv(name string, fallback bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a valid boolean: %w", name, err)
	}
	return v, nil
}
