package resize

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caarmen/image-resizer/pkg/fetch"
	"github.com/caarmen/image-resizer/pkg/imaging"
	"github.com/caarmen/image-resizer/pkg/response"
)

// statusFor maps a resolution error to the HTTP status and message sent to the client.
// Upstream HTTP errors keep their status; every other failure caused by the request
// is a 422 and local failures are a 500.
func statusFor(err error) (int, string) {
	var statusErr *fetch.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode <= 599:
		return statusErr.StatusCode, "Error retrieving image"
	case errors.Is(err, fetch.ErrInvalidURL),
		errors.Is(err, fetch.ErrSchemeNotAllowed),
		errors.Is(err, fetch.ErrDomainNotAllowed),
		errors.Is(err, fetch.ErrFetch):
		return http.StatusUnprocessableEntity, "Invalid image url"
	case errors.Is(err, imaging.ErrDecode):
		return http.StatusUnprocessableEntity, "Could not process image"
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "Unsupported image format"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func errorResponse(c echo.Context, err error) error {
	code, message := statusFor(err)
	return response.Error(c, code, message)
}
