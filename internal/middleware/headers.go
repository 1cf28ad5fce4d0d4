package middleware

import (
	"github.com/labstack/echo/v4"
)

const (
	HeaderVersion  = "X-Image-Resizer-Version"
	HeaderInstance = "X-Image-Resizer-Instance"
)

// VersionMiddleware adds the server version and instance ID to all responses.
// The instance ID tells apart processes sharing one cache directory.
func VersionMiddleware(version, instanceID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(HeaderVersion, version)
			c.Response().Header().Set(HeaderInstance, instanceID)
			return next(c)
		}
	}
}
