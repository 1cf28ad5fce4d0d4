package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/caarmen/image-resizer/pkg/fetch"
	"github.com/caarmen/image-resizer/pkg/logging"
	"github.com/caarmen/image-resizer/pkg/response"
)

// LoopPreventionMiddleware rejects requests sent by an image resizer, so the
// service never ends up fetching its own output
func LoopPreventionMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(fetch.ClientHeader) != "" {
				logging.LogRejected("request loop", c.Path(), c.RealIP())
				return response.BadRequest(c, "Invalid image url")
			}
			return next(c)
		}
	}
}
