package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")

	// ErrConfig marks missing or inconsistent channel configuration.
	// It is never retried.
	ErrConfig = errors.New("configuration error")

	// ErrChannelFatal marks failures of the messaging channel itself
	// (unauthorized, unknown instance). A run must abort on it.
	ErrChannelFatal = errors.New("channel fatal")

	// ErrNotConnected is returned when the channel instance is not in a
	// connected state.
	ErrNotConnected = errors.New("instance not connected")

	// ErrPayloadTooLarge marks a media payload rejected with HTTP 413.
	// Fatal for the recipient, not for the run.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrRunActive is returned when a dispatch run is already in progress.
	ErrRunActive = errors.New("a dispatch run is already in progress")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
