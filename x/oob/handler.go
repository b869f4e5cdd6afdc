package oob

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/affinidi/didcomm-mediator/core"
)

// Handler serves spec §6's `/oob` invitation retrieval endpoint, plus an
// authenticated create and an owner-or-admin-gated delete for managing the
// invitations a session's own DID has issued.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Get implements `GET /oob`: retrieval by invitation id, unauthenticated,
// since an invitation is meant to be handed to a stranger out-of-band.
func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "OOB.Handler.Get")
	defer span.End()

	id := c.QueryParam("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing id"})
	}

	inv, err := h.service.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		if _, ok := err.(core.ErrorNotFound); ok {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "oob lookup failed"})
	}
	return c.JSON(http.StatusOK, inv)
}

type createRequest struct {
	Invitation string `json:"invitation"`
}

// Create mints a new invitation owned by the requesting session's DID hash.
// Mounted under the authenticated route group.
func (h *Handler) Create(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "OOB.Handler.Create")
	defer span.End()

	didHash, _ := ctx.Value(core.RequesterDidHashCtxKey).(string)
	if didHash == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	inv, err := h.service.Create(ctx, didHash, req.Invitation)
	if err != nil {
		span.RecordError(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "oob create failed"})
	}
	return c.JSON(http.StatusCreated, inv)
}

// Delete implements the owner-or-admin-gated invitation removal named in
// spec §3. Mounted under the authenticated route group; the caller supplies
// whether the requester is acting as an administrator.
func (h *Handler) Delete(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "OOB.Handler.Delete")
	defer span.End()

	didHash, _ := ctx.Value(core.RequesterDidHashCtxKey).(string)
	if didHash == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	id := c.Param("id")
	actor := ActorOwner
	if requesterType, _ := ctx.Value(core.RequesterTypeCtxKey).(core.AccountType); requesterType == core.AccountTypeAdmin || requesterType == core.AccountTypeRootAdmin {
		actor = ActorAdmin
	}

	if err := h.service.Delete(ctx, actor, didHash, id); err != nil {
		span.RecordError(err)
		if _, ok := err.(core.ErrorPermissionDenied); ok {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
		if _, ok := err.(core.ErrorNotFound); ok {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "oob delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
