package oanda

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the v20 REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("oanda: http %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("oanda: http %d: %s", e.Status, e.Message)
}

// IsAuthError reports whether err is a credentials failure. Auth errors are
// fatal: retrying with the same token cannot succeed.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}
