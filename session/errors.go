package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Match with errors.Is; every error returned by Manager wraps exactly one of them.
var (
	// ErrTransport indicates the request never produced an HTTP response
	// (DNS, connection refused, timeout). Always safe to retry.
	ErrTransport = errors.New("transport error")

	// ErrProtocol indicates a non-2xx status not classified as auth or conflict.
	ErrProtocol = errors.New("protocol error")

	// ErrAuth indicates a missing, expired or rejected credential.
	ErrAuth = errors.New("authentication required")

	// ErrExpired indicates the pending device code passed its expiry.
	ErrExpired = fmt.Errorf("%w: device code expired", ErrAuth)

	// ErrData indicates a response body that was empty or unparseable where a value was required.
	ErrData = errors.New("invalid response data")

	// ErrConsistency indicates server data contradicting locally held identity.
	ErrConsistency = errors.New("inconsistent session data")

	// ErrAlreadyExists is returned by the achievement grant endpoint on duplicates.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState indicates an operation invoked outside its precondition.
	ErrInvalidState = errors.New("invalid state")
)

// ErrorResponse is the OAuth-style error body returned by the API.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	// Code is the OAuth error code from the body, if any.
	Code string
	Body string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unwrap maps the status code onto an error kind. A conflict is only an
// ErrAlreadyExists where the endpoint defines it, so it stays ErrProtocol here.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	default:
		return ErrProtocol
	}
}

// AchievementSyncError wraps a failed achievement refresh that ran after a
// successful profile refresh or login. The primary operation has been committed.
type AchievementSyncError struct {
	Err error
}

func (e *AchievementSyncError) Error() string {
	return fmt.Sprintf("achievement refresh failed: %v", e.Err)
}

func (e *AchievementSyncError) Unwrap() error { return e.Err }

// newStatusError builds a StatusError, preferring the OAuth error description over the raw body.
func newStatusError(method, path string, status int, body []byte) *StatusError {
	se := &StatusError{Method: method, Path: path, StatusCode: status, Body: string(body)}
	var errResp ErrorResponse
	if err := decodeJSON(body, &errResp); err == nil && errResp.Error != "" {
		se.Code = errResp.Error
		se.Body = errResp.Error
		if errResp.ErrorDescription != "" {
			se.Body += ": " + errResp.ErrorDescription
		}
	}
	return se
}
