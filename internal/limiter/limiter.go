// Package limiter tracks failed authentication attempts per source address
// and bans sources that cross the configured threshold.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config bounds
const (
	MinBanDuration   = time.Second
	MaxBanDuration   = 24 * time.Hour
	MinAttemptWindow = time.Second
	MaxAttemptWindow = 24 * time.Hour
	MinMaxAttempts   = 1
	MaxMaxAttempts   = 100
)

// Config holds the limiter thresholds. Changes apply prospectively: already
// recorded failures and active bans keep the timing they were given.
type Config struct {
	BanDuration   time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
}

// Validate checks the config against the allowed ranges
func (c Config) Validate() error {
	if c.BanDuration < MinBanDuration || c.BanDuration > MaxBanDuration {
		return fmt.Errorf("ban duration must be between %s and %s", MinBanDuration, MaxBanDuration)
	}
	if c.AttemptWindow < MinAttemptWindow || c.AttemptWindow > MaxAttemptWindow {
		return fmt.Errorf("attempt window must be between %s and %s", MinAttemptWindow, MaxAttemptWindow)
	}
	if c.MaxAttempts < MinMaxAttempts || c.MaxAttempts > MaxMaxAttempts {
		return fmt.Errorf("max attempts must be between %d and %d", MinMaxAttempts, MaxMaxAttempts)
	}
	return nil
}

// DefaultConfig returns the stock thresholds: 5 failures within 5 minutes
// earn a 5 minute ban
func DefaultConfig() Config {
	return Config{
		BanDuration:   5 * time.Minute,
		MaxAttempts:   5,
		AttemptWindow: 5 * time.Minute,
	}
}

// Limiter owns all abuse-control state. Every method takes the single
// internal mutex; callers never see the maps.
type Limiter struct {
	mu          sync.Mutex
	cfg         Config
	bannedUntil map[string]time.Time
	failures    map[string][]time.Time
	logger      *slog.Logger
}

// New creates a Limiter. An invalid config falls back to DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:         cfg,
		bannedUntil: make(map[string]time.Time),
		failures:    make(map[string][]time.Time),
		logger:      logger,
	}
}

// IsBlocked reports whether the source is currently banned. An expired ban
// is pruned on the spot, together with the failure history that caused it.
func (l *Limiter) IsBlocked(source string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, banned := l.bannedUntil[source]
	if !banned {
		return false
	}
	if now.Before(until) {
		return true
	}

	delete(l.bannedUntil, source)
	delete(l.failures, source)
	return false
}

// RecordFailure notes a failed attempt for the source. Failures older than
// the window are dropped first; if the remaining count reaches the threshold
// the source is banned. Returns whether this call put a ban in place.
func (l *Limiter) RecordFailure(source string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.failures[source][:0]
	for _, ts := range l.failures[source] {
		if now.Sub(ts) < l.cfg.AttemptWindow {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	l.failures[source] = recent

	if len(recent) >= l.cfg.MaxAttempts {
		l.bannedUntil[source] = now.Add(l.cfg.BanDuration)
		l.logger.Warn("source banned",
			slog.String("source", source),
			slog.Int("failures", len(recent)),
			slog.Duration("ban_duration", l.cfg.BanDuration),
		)
		return true
	}
	return false
}

// Unblock lifts a ban and clears the source's failure history
func (l *Limiter) Unblock(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.bannedUntil, source)
	delete(l.failures, source)
}

// RemainingBlockTime returns how long the source stays banned. The second
// return value is false when the source is not banned.
func (l *Limiter) RemainingBlockTime(source string, now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, banned := l.bannedUntil[source]
	if !banned || !now.Before(until) {
		return 0, false
	}
	return until.Sub(now), true
}

// Blocked returns every currently banned source with its remaining ban time
func (l *Limiter) Blocked(now time.Time) map[string]time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]time.Duration)
	for source, until := range l.bannedUntil {
		if now.Before(until) {
			out[source] = until.Sub(now)
		}
	}
	return out
}

// SetConfig swaps the thresholds. Existing failure timestamps and ban
// expiries are untouched; the new values govern subsequent calls only.
func (l *Limiter) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cfg = cfg
	l.logger.Info("limiter config updated",
		slog.Duration("ban_duration", cfg.BanDuration),
		slog.Int("max_attempts", cfg.MaxAttempts),
		slog.Duration("attempt_window", cfg.AttemptWindow),
	)
	return nil
}

// GetConfig returns the current thresholds
func (l *Limiter) GetConfig() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// CleanupExpired drops expired bans and failure histories that have aged
// out of the window. Returns the number of entries removed.
func (l *Limiter) CleanupExpired(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for source, until := range l.bannedUntil {
		if !now.Before(until) {
			delete(l.bannedUntil, source)
			delete(l.failures, source)
			removed++
		}
	}
	for source, attempts := range l.failures {
		recent := attempts[:0]
		for _, ts := range attempts {
			if now.Sub(ts) < l.cfg.AttemptWindow {
				recent = append(recent, ts)
			}
		}
		if len(recent) == 0 {
			delete(l.failures, source)
			removed++
		} else {
			l.failures[source] = recent
		}
	}
	return removed
}

// Run sweeps expired entries on the given interval until the context is
// cancelled. IsBlocked already prunes lazily; this keeps sources that never
// come back from accumulating.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := l.CleanupExpired(now); removed > 0 {
				l.logger.Debug("limiter cleanup", slog.Int("removed", removed))
			}
		}
	}
}
