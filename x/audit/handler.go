package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes read access to the audit trail for operators; mounted
// under the admin-only route group alongside x/peer's handler.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) List(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Audit.Handler.List")
	defer span.End()

	actorHash := c.QueryParam("actorHash")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	entries, err := h.service.List(ctx, actorHash, limit)
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "audit list failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}
