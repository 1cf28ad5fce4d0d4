package resize

import (
	"github.com/labstack/echo/v4"

	"github.com/caarmen/image-resizer/internal/middleware"
)

// RegisterRoutes registers resize routes
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.GET("/resize", handler.Resize, middleware.LoopPreventionMiddleware())
}
