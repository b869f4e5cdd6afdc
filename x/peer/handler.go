package peer

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes read/delete access to the known-peer-mediator
// directory for operators; mounted under the admin-only route group.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service}
}

type peerResponse struct {
	DIDHash  string `json:"didHash"`
	DID      string `json:"did"`
	Endpoint string `json:"endpoint,omitempty"`
}

func (h *Handler) List(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Peer.Handler.List")
	defer span.End()

	records, err := h.service.List(ctx)
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "peer list failed"})
	}

	out := make([]peerResponse, 0, len(records))
	for _, r := range records {
		out = append(out, peerResponse{DIDHash: r.DIDHash, DID: r.DID, Endpoint: r.Endpoint})
	}
	return c.JSON(http.StatusOK, echo.Map{"peers": out})
}

func (h *Handler) Delete(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Peer.Handler.Delete")
	defer span.End()

	didHash := c.Param("didHash")
	if err := h.service.Forget(ctx, didHash); err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "peer delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
