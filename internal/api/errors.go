package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors matched with errors.Is against an *Error.
var (
	ErrUnauthorized   = errors.New("authentication required")
	ErrForbidden      = errors.New("admin access required")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrBadCredentials = errors.New("invalid username or password")
)

// Error is returned for every non-2xx response.
type Error struct {
	Method   string
	Path     string
	Status   int
	Message  string
	LoginURL string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, msg)
}

// Is maps status codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// ValidationError reports input rejected before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
