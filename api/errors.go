package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTimeout matches any request that exceeded the client timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrUnauthorized matches 401/403 responses, typically an expired token.
	ErrUnauthorized = errors.New("unauthorized")
)

// NetworkError is a transport failure: connection refused, reset, timeout.
// No envelope was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout()
}

// AppError is an application-level failure: an envelope with success=false
// or a non-2xx status. Msg is the server-provided message, suitable for
// showing to the user as is.
type AppError struct {
	Status int
	Msg    string
}

func (e *AppError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("api: request failed (%d)", e.Status)
	}
	return fmt.Sprintf("api: %s (%d)", e.Msg, e.Status)
}

func (e *AppError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// ValidationError is raised before any network call when input is incomplete.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func required(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Msg: "is required"}
	}
	return nil
}
