package handlers

import (
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	ws "github.com/tempbox/tempbox-backend/internal/websocket"
)

// WSHandler upgrades HTTP requests to websocket connections and hands
// them to the hub for inbox subscriptions.
type WSHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new WSHandler. allowedOrigins restricts which
// browser origins may open a connection.
func NewWSHandler(hub *ws.Hub, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub:      hub,
		upgrader: ws.NewSecureUpgrader(allowedOrigins, logger),
		logger:   logger,
	}
}

// Connect handles GET /ws
func (h *WSHandler) Connect(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("remote", c.RealIP()),
			slog.String("error", err.Error()))
		return nil
	}

	client := ws.NewClient(h.hub, conn, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	return nil
}
