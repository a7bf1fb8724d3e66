package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthMissing = errors.New("no credential available")
	ErrChannel     = errors.New("channel error")
	ErrValidation  = errors.New("validation failed")
)

// NetworkError marks a failed REST call (transport failure or non-2xx).
// Always recoverable: state is unchanged and the call may be retried.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying: transport
// errors and 5xx, never 4xx.
func (e *NetworkError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// BatchError collects per-item failures from a multi-item media send. The
// overall operation failed only if every item did.
type BatchError struct {
	Total    int
	Failures map[int]error
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for i, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("item %d: %v", i, err))
	}
	return fmt.Sprintf("%d/%d items failed: %s", len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// AllFailed reports whether no item in the batch succeeded.
func (e *BatchError) AllFailed() bool { return len(e.Failures) == e.Total }

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
