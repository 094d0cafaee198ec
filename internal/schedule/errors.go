package schedule

import (
	"errors"
	"fmt"
)

// Code classifies a scheduling error.
type Code string

const (
	ErrInternal Code = "internal"
	ErrInvalid  Code = "invalid"
	ErrNotFound Code = "not_found"
)

// Error is a scheduling error with a machine-readable code.
type Error struct {
	// Code is a machine-readable error code.
	Code Code

	// Description is a human-readable description of the error.
	Description string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "schedule: " + string(e.Code) + ": " + e.Description
}

// Errorf builds an *Error with the given code.
func Errorf(code Code, format string, args ...any) error {
	return &Error{code, fmt.Sprintf(format, args...)}
}

// ErrorCode returns the error code associated with err, or ErrInternal if err
// isn't a scheduling error.
func ErrorCode(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrInternal
}

// ErrorDescription returns a human-readable description of the error, or
// "internal error" if err isn't a scheduling error.
func ErrorDescription(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Description != "" {
		return e.Description
	}
	return "internal error"
}

// IsNotFound reports whether err refers to an unknown relay or alarm.
func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrNotFound
}

// IsInvalid reports whether err was caused by malformed input.
func IsInvalid(err error) bool {
	return ErrorCode(err) == ErrInvalid
}

func relayNotFound(id uint) error {
	return Errorf(ErrNotFound, "relay %d not found", id)
}

func alarmNotFound(relayID, alarmID uint) error {
	return Errorf(ErrNotFound, "alarm %d not found on relay %d", alarmID, relayID)
}
