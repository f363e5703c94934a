package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoCredential means the key pool had nothing to hand out. The
	// executor skips the backend for the current attempt.
	ErrNoCredential = errors.New("no API key available")

	// ErrEmptyResponse means the call succeeded but produced no text.
	ErrEmptyResponse = errors.New("empty response")
)

// BackendError is a failed call to a single backend.
type BackendError struct {
	Backend string
	Status  int // HTTP status, 0 if unknown
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsQuotaError reports whether err signals rate or quota exhaustion.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) && be.Status == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(strings.ToLower(msg), "quota")
}

// IsUnrecoverable identifies errors that will not go away by retrying the
// same backend with the same credentials (invalid or disabled key).
func IsUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) && (be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid_api_key") || strings.Contains(msg, "api_key_invalid") ||
		strings.Contains(msg, "permission_denied")
}
