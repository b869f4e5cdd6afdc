// Package socket serves the live-delivery WebSocket of spec §4.5: one
// connection per authorized DID, fed by whatever x/mailbox or x/dispatch
// publishes for that DID.
package socket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/affinidi/didcomm-mediator/core"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connect upgrades an already-session-authorized request (RequireSession
// ran ahead of this route) and holds the connection open for as long as
// the client keeps it alive.
func (h *Handler) Connect(c echo.Context) error {
	ctx := c.Request().Context()

	didHash, _ := ctx.Value(core.RequesterDidHashCtxKey).(string)
	if didHash == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade live delivery socket", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()

	h.service.Connect(ctx, didHash, conn)
	return nil
}
