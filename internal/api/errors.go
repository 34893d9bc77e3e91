package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized marks 401/403 responses; these are never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict marks a 409 response on a batch call.
	ErrConflict = errors.New("conflict")
)

// StatusError carries a non-2xx response status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Retryable reports whether an error should count toward the retry budget.
// Authentication failures and conflicts have their own handling paths.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrConflict)
}
