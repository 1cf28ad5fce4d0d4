package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response represents the JSON body sent for anything but a resized image
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Details lists individual problems, e.g. one entry per invalid query parameter
	Details []string `json:"details,omitempty"`
}

// Success sends a successful response
func Success(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends an error response
func Error(c echo.Context, code int, message string, details ...string) error {
	return c.JSON(code, Response{
		Success: false,
		Error:   message,
		Details: details,
	})
}

// OK sends a 200 OK response
func OK(c echo.Context, message string, data interface{}) error {
	return Success(c, http.StatusOK, message, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(c echo.Context, message string) error {
	return Error(c, http.StatusBadRequest, message)
}

// UnprocessableEntity sends a 422 response: the request was understood but cannot be processed
func UnprocessableEntity(c echo.Context, message string, details ...string) error {
	return Error(c, http.StatusUnprocessableEntity, message, details...)
}

// InternalServerError sends a 500 Internal Server Error response
func InternalServerError(c echo.Context, message string) error {
	return Error(c, http.StatusInternalServerError, message)
}
