package resize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/caarmen/image-resizer/pkg/cache"
	"github.com/caarmen/image-resizer/pkg/fetch"
	"github.com/caarmen/image-resizer/pkg/imaging"
	"github.com/caarmen/image-resizer/pkg/logging"
	"github.com/caarmen/image-resizer/pkg/response"
)

// Resolver turns a cache key into an artifact on disk
type Resolver interface {
	Resolve(ctx context.Context, key cache.Key, headers http.Header) (cache.Artifact, error)
}

// URLChecker rejects source URLs before anything is fetched
type URLChecker interface {
	Check(rawURL string) error
}

// Handler handles resize requests
type Handler struct {
	resolver Resolver
	checker  URLChecker
}

// NewHandler creates a new resize handler
func NewHandler(resolver Resolver, checker URLChecker) *Handler {
	return &Handler{
		resolver: resolver,
		checker:  checker,
	}
}

// Resize handles GET /resize
func (h *Handler) Resize(c echo.Context) error {
	query, err := bindQuery(c)
	if err != nil {
		return response.UnprocessableEntity(c, "Invalid request parameters", err.Error())
	}
	if err := c.Validate(query); err != nil {
		return response.UnprocessableEntity(c, "Invalid request parameters", validationDetails(err)...)
	}

	format, err := imaging.ParseFormat(query.ImageFormat)
	if err != nil {
		return response.UnprocessableEntity(c, "Invalid request parameters", err.Error())
	}
	scale, err := imaging.ParseScaleType(query.ScaleType)
	if err != nil {
		return response.UnprocessableEntity(c, "Invalid request parameters", err.Error())
	}

	if err := h.checker.Check(query.ImageURL); err != nil {
		logging.LogRejected(err.Error(), c.Path(), c.RealIP())
		return errorResponse(c, err)
	}

	key := cache.NewKey(query.ImageURL, valueOrZero(query.Width), valueOrZero(query.Height), format, scale)

	userAgent := query.UserAgent
	if userAgent == "" {
		userAgent = fetch.DefaultUserAgent
	}
	headers := http.Header{}
	headers.Set("User-Agent", userAgent)

	f, artifact, err := h.open(c.Request().Context(), key, headers)
	if err != nil {
		logging.Logger.Warn("Resize failed",
			zap.String("key", key.String()),
			zap.Error(err))
		return errorResponse(c, err)
	}
	defer f.Close()

	return c.Stream(http.StatusOK, artifact.MimeType, f)
}

// open resolves key and opens its artifact. An artifact swept between the two
// steps is resolved once more.
func (h *Handler) open(ctx context.Context, key cache.Key, headers http.Header) (*os.File, cache.Artifact, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		artifact, err := h.resolver.Resolve(ctx, key, headers)
		if err != nil {
			return nil, cache.Artifact{}, err
		}
		f, err := os.Open(artifact.FilePath)
		if err == nil {
			return f, artifact, nil
		}
		lastErr = fmt.Errorf("%w: %w", cache.ErrStorage, err)
		if !errors.Is(err, os.ErrNotExist) {
			break
		}
	}
	return nil, cache.Artifact{}, lastErr
}

func bindQuery(c echo.Context) (*ResizeQuery, error) {
	query := &ResizeQuery{}
	var width, height int
	err := echo.QueryParamsBinder(c).
		String("image_url", &query.ImageURL).
		Int("width", &width).
		Int("height", &height).
		String("image_format", &query.ImageFormat).
		String("scale_type", &query.ScaleType).
		String("user_agent", &query.UserAgent).
		BindError()
	if err != nil {
		return nil, err
	}

	params := c.QueryParams()
	if params.Has("width") {
		query.Width = &width
	}
	if params.Has("height") {
		query.Height = &height
	}
	return query, nil
}

func validationDetails(err error) []string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}

	details := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details = append(details, fmt.Sprintf("%s must satisfy %s", fe.Field(), rule))
	}
	return details
}

func valueOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
