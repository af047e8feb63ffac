package sessionhost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/cuemby/sessionsync/pkg/types"
)

// ErrorCode classifies a failed session host call
type ErrorCode string

const (
	CodeTransport     ErrorCode = "transport"
	CodeTimeout       ErrorCode = "timeout"
	CodeNotFound      ErrorCode = "not_found"
	CodeAlreadyExists ErrorCode = "already_exists"
	CodeUnauthorized  ErrorCode = "unauthorized"
	CodeBadResponse   ErrorCode = "bad_response"
	CodeHTTPStatus    ErrorCode = "http_status"
)

// HostError is returned by every Client operation that did not succeed
type HostError struct {
	Op         string
	SessionID  string
	Code       ErrorCode
	StatusCode int
	Err        error
}

func (e *HostError) Error() string {
	msg := "sessionhost: " + e.Op
	if e.SessionID != "" {
		msg += " " + e.SessionID
	}
	msg += ": " + string(e.Code)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// Is maps host error codes onto the shared error taxonomy
func (e *HostError) Is(target error) bool {
	switch target {
	case types.ErrNotFound:
		return e.Code == CodeNotFound
	case types.ErrTransport:
		return e.transient()
	}
	return false
}

// transient reports whether another attempt could succeed
func (e *HostError) transient() bool {
	switch e.Code {
	case CodeTransport, CodeTimeout:
		return true
	case CodeHTTPStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// Code returns the error code of err, or "" when err is not a HostError
func Code(err error) ErrorCode {
	var hostErr *HostError
	if errors.As(err, &hostErr) {
		return hostErr.Code
	}
	return ""
}

// IsNotFound reports whether the host said the session does not exist
func IsNotFound(err error) bool {
	return Code(err) == CodeNotFound
}

// IsAlreadyExists reports whether the host said the session already exists
func IsAlreadyExists(err error) bool {
	return Code(err) == CodeAlreadyExists
}

// IsTransport reports whether err is a network, timeout or retryable
// status failure
func IsTransport(err error) bool {
	var hostErr *HostError
	return errors.As(err, &hostErr) && hostErr.transient()
}

// classifyTransport turns a failed round trip into a HostError
func classifyTransport(op, sessionID string, err error) *HostError {
	code := CodeTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = CodeTimeout
	}
	return &HostError{Op: op, SessionID: sessionID, Code: code, Err: err}
}

// classifyStatus turns a non-2xx response into a HostError
func classifyStatus(op, sessionID string, status int, message string) *HostError {
	code := CodeHTTPStatus
	switch status {
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusConflict:
		code = CodeAlreadyExists
	case http.StatusUnauthorized, http.StatusForbidden:
		code = CodeUnauthorized
	}
	var err error
	if message != "" {
		err = errors.New(message)
	}
	return &HostError{Op: op, SessionID: sessionID, Code: code, StatusCode: status, Err: err}
}
