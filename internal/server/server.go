package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/caarmen/image-resizer/internal/api/resize"
	"github.com/caarmen/image-resizer/internal/middleware"
	"github.com/caarmen/image-resizer/pkg/logging"
)

// VersionInfo contains build version information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

// Server represents the resizer HTTP server
type Server struct {
	echo        *echo.Echo
	instanceID  string
	versionInfo *VersionInfo
}

// New registers the routes on e and returns the server
func New(
	e *echo.Echo,
	resolver resize.Resolver,
	checker resize.URLChecker,
	instanceID string, // distinguishes processes sharing one cache directory
	versionInfo *VersionInfo,
) *Server {
	srv := &Server{
		echo:        e,
		instanceID:  instanceID,
		versionInfo: versionInfo,
	}

	e.Use(middleware.VersionMiddleware(versionInfo.Version, instanceID))

	resizeHandler := resize.NewHandler(resolver, checker)
	resize.RegisterRoutes(e.Group(""), resizeHandler)

	e.GET("/version", srv.handleVersion)

	// Health check for load balancers/probes
	e.GET("/health", srv.handleHealth)

	return srv
}

// handleHealth handles the health check endpoint
// Returns 200 OK, or JSON with the instance ID when ?info=true is specified
func (s *Server) handleHealth(c echo.Context) error {
	if c.QueryParam("info") == "true" {
		return c.JSON(http.StatusOK, map[string]string{
			"instance_id": s.instanceID,
		})
	}
	return c.NoContent(http.StatusOK)
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, s.versionInfo)
}

// Start starts the server on port
func (s *Server) Start(port string) error {
	addr := ":" + port
	logging.Logger.Info("Starting server", zap.String("port", addr))
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
