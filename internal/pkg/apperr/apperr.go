package apperr

import (
	"errors"
	"fmt"

	"github.com/yungbote/stylelens-backend/internal/pkg/httpx"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ExternalServiceError marks a transient failure from an upstream service
// (detector, embedder, search index). Retryable by the caller.
type ExternalServiceError struct {
	Service    string
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Service, e.Operation, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func External(service, op, message string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Operation: op, Message: message, Err: err}
}

func ExternalHTTP(service, op string, statusCode int, message string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Operation: op, StatusCode: statusCode, Message: message, Err: err}
}

// ValidationError marks a non-retryable bad input (malformed image, empty
// allow-list). Retrying will not help.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError marks a missing job or detected item reference.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Entity, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PartialFailure records that some per-item sub-pipelines failed while the
// job overall succeeded with a reduced result set.
type PartialFailure struct {
	Failed int
	Total  int
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("partial failure: %d/%d items failed", e.Failed, e.Total)
}

// IsRetryable reports whether err should be retried at a step boundary.
// Validation and not-found errors never are. External errors carrying an HTTP
// status defer to the status; status-less ones (refused connections, broken
// transport) are transient and retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return false
	}
	var ese *ExternalServiceError
	if errors.As(err, &ese) {
		if ese.StatusCode > 0 {
			return httpx.IsRetryableHTTPStatus(ese.StatusCode)
		}
		return true
	}
	return false
}
