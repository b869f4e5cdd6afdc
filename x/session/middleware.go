package session

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/affinidi/didcomm-mediator/core"
)

// RequireSession validates the mediator-access-token header and sets the
// requester's DID hash and session on the request context. Handlers that
// need an authorized caller (everything but /authenticate and /oob) are
// wrapped with this.
func RequireSession(service Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracer.Start(c.Request().Context(), "Session.Middleware.RequireSession")
			defer span.End()

			token := c.Request().Header.Get(core.AccessTokenHeader)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": CodeAccessTokenFailure})
			}

			sess, err := service.Authorize(ctx, token)
			if err != nil {
				span.RecordError(err)
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": CodeAccessTokenFailure})
			}

			ctx = context.WithValue(ctx, core.RequesterDidHashCtxKey, sess.DIDHash)
			ctx = context.WithValue(ctx, core.RequesterSessionCtxKey, sess.ID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
