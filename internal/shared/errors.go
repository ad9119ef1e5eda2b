package shared

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrNotOpen         = errors.New("session not open")
	ErrClosed          = errors.New("session closed")
	ErrNoCaptureDevice = errors.New("no capture device")
	ErrCorruptAudio    = errors.New("corrupt audio payload")
	ErrBufferFull      = errors.New("playback buffer full")
)

// APIError is the body of every control API error response.
type APIError struct {
	Code    string `json:"code" example:"session_not_open"`
	Message string `json:"message" example:"session is not open"`
	Details any    `json:"details,omitempty" swaggertype:"object"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func Conflict(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusConflict)
}

func Unavailable(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusServiceUnavailable)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}

// StatusOf maps a client error to the HTTP status the control API reports.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOpen), errors.Is(err, ErrClosed):
		return http.StatusConflict
	case errors.Is(err, ErrNoCaptureDevice), errors.Is(err, ErrBufferFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrCorruptAudio):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
