package dishapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned after the API rejected the credential. By the time a caller
	// sees it, the session has already been cleared and navigation to login issued.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// ValidationError is a request the API refused because of what was sent
// (bad login credentials, malformed input, unknown dish). The message is meant for the user.
type ValidationError struct {
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request rejected: %d %s", e.Status, http.StatusText(e.Status))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// TransientError covers network failures, server errors and unreadable responses.
// It is not retried.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dish api: status %d: %s", e.Status, e.Err)
	}
	return fmt.Sprintf("dish api: %s", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func outcome(err error) string {
	var validationErr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &validationErr):
		return "validation"
	default:
		return "transient"
	}
}
