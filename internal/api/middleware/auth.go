// Package middleware provides HTTP middleware for the Tempbox API.
package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tempbox/tempbox-backend/internal/limiter"
)

// AdminAuth validates the admin password from the Authorization header.
// Failed attempts are fed to the abuse limiter; a banned source is refused
// with 429 before the password is even looked at. Uses constant-time
// comparison to prevent timing attacks.
func AdminAuth(password string, lim *limiter.Limiter, logger *slog.Logger) echo.MiddlewareFunc {
	if password == "" && logger != nil {
		logger.Warn("ADMIN_PASSWORD not set - admin API is UNSECURED")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			now := time.Now()

			if lim != nil {
				if remaining, blocked := lim.RemainingBlockTime(ip, now); blocked {
					if logger != nil {
						logger.Warn("banned source refused",
							slog.String("ip", ip),
							slog.String("path", c.Path()))
					}
					c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", int(remaining.Seconds())+1))
					return echo.NewHTTPError(429, map[string]string{
						"error": "too many failed attempts",
						"code":  "SOURCE_BANNED",
					})
				}
			}

			// Skip if no password configured (development mode)
			if password == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			if subtle.ConstantTimeCompare([]byte(token), []byte(password)) != 1 {
				if lim != nil {
					lim.RecordFailure(ip, now)
				}
				if logger != nil {
					logger.Warn("invalid admin credentials",
						slog.String("ip", ip),
						slog.String("path", c.Path()))
				}
				return echo.NewHTTPError(401, map[string]string{
					"error": "invalid credentials",
					"code":  "UNAUTHORIZED",
				})
			}

			return next(c)
		}
	}
}
