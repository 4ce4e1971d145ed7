package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the single error type for non-2xx backend responses. Status
// carries the HTTP status code; Message is the backend's message field
// when the body parsed, or a generic "HTTP <status>" otherwise; Body is
// the raw response body (empty when parsing failed or the body was empty).
type Error struct {
	Status  int
	Message string
	Body    []byte
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: HTTP %d", e.Status)
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// StatusOf returns the HTTP status carried by err, or 0 for transport
// level failures that never produced a response.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
