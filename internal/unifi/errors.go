package unifi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when a looked-up object does not exist.
var ErrNotFound = errors.New("not found")

// AuthError reports bad credentials or a session the controller kept
// rejecting after the single re-authentication.
type AuthError struct {
	StatusCode int
	Op         string // "login", or the method and path of the rejected call
	Retried    bool
}

func (e *AuthError) Error() string {
	if e.Retried {
		return fmt.Sprintf("unifi auth: %s rejected with %d after re-authentication", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("unifi auth: %s rejected with %d", e.Op, e.StatusCode)
}

// APIError is a non-auth failure returned by the controller.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unifi %s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unifi %s %s: %d", e.Method, e.Path, e.StatusCode)
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
