package repositories

import (
	"errors"
	"fmt"
)

// CounterErrorCode classifies order counter failures.
type CounterErrorCode string

const (
	CounterErrorUnknown       CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput  CounterErrorCode = "counter_invalid_input"
	CounterErrorNotConfigured CounterErrorCode = "counter_not_configured"
	CounterErrorAlreadyExists CounterErrorCode = "counter_already_exists"
)

// CounterError reports a failure of a tenant's order counter.
type CounterError struct {
	Op       string
	Code     CounterErrorCode
	TenantID string
	Message  string
	Err      error
}

func (e *CounterError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op == "":
		return e.Message
	default:
		return e.Op + ": " + e.Message
	}
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError builds a CounterError; an empty message falls back to the code.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

// NewCounterNotConfiguredError reports that tenantID has no counter yet.
func NewCounterNotConfiguredError(op, tenantID string, cause error) *CounterError {
	return &CounterError{
		Op:       op,
		Code:     CounterErrorNotConfigured,
		TenantID: tenantID,
		Message:  fmt.Sprintf("tenant %s has no order counter", tenantID),
		Err:      cause,
	}
}

// CounterErrorCodeOf returns the code carried by err, or CounterErrorUnknown.
func CounterErrorCodeOf(err error) CounterErrorCode {
	var counterErr *CounterError
	if errors.As(err, &counterErr) {
		return counterErr.Code
	}
	return CounterErrorUnknown
}
