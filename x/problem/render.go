package problem

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Render writes a problem report as the REST response body, mirroring its
// error class with the HTTP status per spec §7 ("over REST the HTTP
// status mirrors the error class").
func Render(c echo.Context, err Error) error {
	return c.JSON(err.Code.HTTPStatus(), echo.Map{
		"problem-report": err.Report,
	})
}

// RenderUnknown handles an error that did not originate as a problem.Error
// — an unexpected internal fault gets a generic 500 rather than leaking
// detail, per the "operational (reported)" contract's intent.
func RenderUnknown(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, echo.Map{
		"error": err.Error(),
	})
}
