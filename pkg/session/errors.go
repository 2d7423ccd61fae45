package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRejected means the server refused credentials or a registration.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrTokenExpired means the local access token expired before a request was sent.
	ErrTokenExpired = errors.New("access token expired")
	// ErrRefreshDenied means the refresh endpoint failed and the session was cleared.
	ErrRefreshDenied = errors.New("refresh denied")
	// ErrUnauthorized means an API call returned 401 and the session was cleared.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoRefreshToken means no refresh token was stored. Nothing was changed.
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// AuthError carries the message shown to the user after a rejected login or registration.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAuthRejected}
	}
	return []error{ErrAuthRejected, e.Err}
}

// rejection prefers the server's error text and falls back to a generic message.
func rejection(err error, fallback string) *AuthError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		return &AuthError{Message: httpErr.Message, Err: err}
	}
	return &AuthError{Message: fallback, Err: err}
}
