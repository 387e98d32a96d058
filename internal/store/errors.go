package store

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound and ErrAccessDenied are kept distinct so tests can tell a
// missing conversation from an ownership mismatch, even though the API
// surfaces both as "not found".
var (
	ErrNotFound     = errors.New("conversation not found")
	ErrAccessDenied = errors.New("conversation access denied")
)

// ServiceError carries the HTTP status an upstream provider answered with,
// or the status the caller should answer with for provider-shaped failures.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewServiceError builds a ServiceError from an upstream response.
func NewServiceError(status int, format string, args ...any) *ServiceError {
	return &ServiceError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf maps an error to the HTTP status the API should answer with.
func StatusOf(err error) int {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Status
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
