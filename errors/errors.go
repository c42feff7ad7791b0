package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrValidation       = fmt.Errorf("invalid request")
	ErrUsernameRequired = fmt.Errorf("%w: username is required", ErrValidation)
	ErrGroupIDRequired  = fmt.Errorf("%w: groupId is required", ErrValidation)
	ErrInvalidGroupName = fmt.Errorf("%w: group name must contain at least one letter or digit", ErrValidation)

	ErrNotFound        = fmt.Errorf("not found")
	ErrGroupNotFound   = fmt.Errorf("group %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrCallNotFound    = fmt.Errorf("call %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)

	ErrConflict       = fmt.Errorf("already exists")
	ErrDuplicateGroup = fmt.Errorf("group %w", ErrConflict)

	ErrInvalidTransition = fmt.Errorf("invalid call status transition")
	ErrStoreUnavailable  = fmt.Errorf("store unavailable")

	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrSlowConsumer     = fmt.Errorf("connection buffer full")

	ErrFileTooLarge       = fmt.Errorf("file too large")
	ErrFileTypeNotAllowed = fmt.Errorf("file type not allowed")
	ErrNoFile             = fmt.Errorf("%w: no file uploaded", ErrValidation)
)

// Is and As re-export the standard helpers so callers importing this package
// don't need a second errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Unavailable wraps a storage failure so that callers can match ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// MapToHTTPStatus translates a domain error into the status used by the REST handlers.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrValidation):
		return http.StatusBadRequest
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrConflict):
		return http.StatusConflict
	case Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case Is(err, ErrFileTypeNotAllowed):
		return http.StatusUnsupportedMediaType
	case Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the text sent back to a client in an error event.
// Storage failures and unknown errors never leak their details.
func UserMessage(err error, fallback string) string {
	switch {
	case Is(err, ErrValidation), Is(err, ErrNotFound), Is(err, ErrConflict),
		Is(err, ErrFileTooLarge), Is(err, ErrFileTypeNotAllowed):
		return err.Error()
	default:
		return fallback
	}
}
