package engine

import (
	"errors"
	"fmt"
)

// Error is an error raised by the engine or one of its endpoints.
//
// Codes fall into two groups:
//   - Fatal: DECODE_ERROR, PROTOCOL_VIOLATION, SASL_FAILED. The engine
//     moves to Failed, the error handler runs once and every endpoint is
//     force-closed before the triggering call returns.
//   - Local: ENGINE_NOT_STARTED, ENGINE_FAILED, ILLEGAL_STATE,
//     DRAIN_TIMEOUT. Only the offending call sees them; engine state is
//     untouched.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeDecode indicates malformed bytes: bad constructor, truncated
	// value, or a frame that breaks the framing rules.
	ErrCodeDecode ErrorCode = "DECODE_ERROR"

	// ErrCodeProtocolViolation indicates a well-formed performative that is
	// not legal at this point of the conversation.
	ErrCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"

	// ErrCodeNotStarted indicates a call before Start.
	ErrCodeNotStarted ErrorCode = "ENGINE_NOT_STARTED"

	// ErrCodeEngineFailed indicates a call after the engine failed or was
	// shut down.
	ErrCodeEngineFailed ErrorCode = "ENGINE_FAILED"

	// ErrCodeSASLFailed indicates the SASL exchange did not succeed.
	ErrCodeSASLFailed ErrorCode = "SASL_FAILED"

	// ErrCodeIllegalState indicates endpoint misuse, such as opening twice
	// or adding credit while a drain is pending.
	ErrCodeIllegalState ErrorCode = "ILLEGAL_STATE"

	// ErrCodeDrainTimeout indicates a drain the peer never answered.
	ErrCodeDrainTimeout ErrorCode = "DRAIN_TIMEOUT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether errors of this code fail the engine.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrCodeDecode, ErrCodeProtocolViolation, ErrCodeSASLFailed:
		return true
	}
	return false
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsDecodeError returns true if err is a DECODE_ERROR.
// Uses errors.As to handle wrapped errors.
func IsDecodeError(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsProtocolViolation returns true if err is a PROTOCOL_VIOLATION.
func IsProtocolViolation(err error) bool { return hasCode(err, ErrCodeProtocolViolation) }

// IsNotStarted returns true if err is an ENGINE_NOT_STARTED error.
func IsNotStarted(err error) bool { return hasCode(err, ErrCodeNotStarted) }

// IsEngineFailed returns true if err is an ENGINE_FAILED error.
func IsEngineFailed(err error) bool { return hasCode(err, ErrCodeEngineFailed) }

// IsSASLFailed returns true if err is a SASL_FAILED error.
func IsSASLFailed(err error) bool { return hasCode(err, ErrCodeSASLFailed) }

// IsIllegalState returns true if err is an ILLEGAL_STATE error.
func IsIllegalState(err error) bool { return hasCode(err, ErrCodeIllegalState) }

// IsDrainTimeout returns true if err is a DRAIN_TIMEOUT error.
func IsDrainTimeout(err error) bool { return hasCode(err, ErrCodeDrainTimeout) }

func newError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func illegalState(format string, args ...any) *Error {
	return newError(ErrCodeIllegalState, nil, format, args...)
}

func violation(format string, args ...any) *Error {
	return newError(ErrCodeProtocolViolation, nil, format, args...)
}
