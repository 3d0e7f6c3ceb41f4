// errors.go - Protocol error values and the echo error handler
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tus-upload-server/backend/internal/upload"
)

// StatusChecksumMismatch is the TUS checksum extension's status code.
const StatusChecksumMismatch = 460

const internalErrorMessage = "Internal server error"

// APIError represents a protocol-level failure with its wire status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error constructors for the protocol checks done before the engine is called

// NewVersionMismatchError creates a 412 for a missing or unsupported Tus-Resumable
func NewVersionMismatchError() *APIError {
	return &APIError{
		Status:  http.StatusPreconditionFailed,
		Code:    "VERSION_MISMATCH",
		Message: "Unsupported TUS version",
	}
}

// NewInvalidLengthError creates a 400 for a missing or non-numeric Upload-Length
func NewInvalidLengthError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "INVALID_LENGTH",
		Message: "Missing or invalid Upload-Length header",
	}
}

// NewInvalidOffsetError creates a 400 for a missing or non-numeric Upload-Offset
func NewInvalidOffsetError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "INVALID_OFFSET_HEADER",
		Message: "Missing or invalid Upload-Offset header",
	}
}

// NewSizeExceededError creates a 413 when a declared length or body is over the limit
func NewSizeExceededError() *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "SIZE_EXCEEDED",
		Message: "Upload size exceeds maximum allowed size",
	}
}

// NewInvalidContentTypeError creates a 400 for a PATCH without the offset media type
func NewInvalidContentTypeError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "INVALID_CONTENT_TYPE",
		Message: "Invalid Content-Type",
	}
}

// NewChecksumMismatchError creates a 460 when Upload-Checksum does not verify
func NewChecksumMismatchError() *APIError {
	return &APIError{
		Status:  StatusChecksumMismatch,
		Code:    "CHECKSUM_MISMATCH",
		Message: "Checksum mismatch",
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
}

var kindStatus = map[upload.Kind]int{
	upload.KindNotFound:         http.StatusNotFound,
	upload.KindExpired:          http.StatusGone,
	upload.KindAlreadyCompleted: http.StatusConflict,
	upload.KindInvalidOffset:    http.StatusConflict,
	upload.KindDataExceedsSize:  http.StatusRequestEntityTooLarge,
	upload.KindNotCompleted:     http.StatusConflict,
	upload.KindFileMissing:      http.StatusNotFound,
	upload.KindConflict:         http.StatusConflict,
	upload.KindInternal:         http.StatusInternalServerError,
}

// toAPIError translates any handler error into its wire form. Internal
// failures never carry their cause.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	}

	var upErr *upload.Error
	if errors.As(err, &upErr) && upErr.Kind != upload.KindInternal {
		status, ok := kindStatus[upErr.Kind]
		if ok {
			return &APIError{Status: status, Code: upErr.Kind.String(), Message: upErr.Message}
		}
	}

	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    upload.KindInternal.String(),
		Message: internalErrorMessage,
	}
}

// NewErrorHandler returns an echo error handler writing plain-text bodies.
// Usage: e.HTTPErrorHandler = api.NewErrorHandler(log)
func NewErrorHandler(log logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := toAPIError(err)
		if apiErr.Status >= http.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Request().URL.Path,
			}).Error("request failed")
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.String(apiErr.Status, apiErr.Message)
	}
}
