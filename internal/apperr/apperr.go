package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeParseFailure       Code = "parse_failure"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeQueueUnavailable   Code = "queue_unavailable"
	CodeValidation         Code = "validation_failed"
	CodeEmbeddingFailed    Code = "embedding_failed"
	CodeTimeout            Code = "timeout"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrValidation is a generic sentinel for invalid input.
	ErrValidation = errors.New("invalid argument")
)

// Error is the typed failure surfaced by core components. Op names the
// operation that failed; Cause carries the underlying error, if any.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "operation failed"
	}
	if e.Message != "" {
		return fmt.Sprintf("%s failed (code=%s): %s", e.Op, e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s failed (code=%s): %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s failed (code=%s)", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause != nil {
		return e.Cause
	}
	// Keep errors.Is(err, ErrNotFound) working for typed not-found errors.
	switch e.Code {
	case CodeNotFound:
		return ErrNotFound
	case CodeValidation:
		return ErrValidation
	}
	return nil
}

func New(code Code, op, msg string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: msg, Cause: cause}
}

func NotFound(op, msg string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Message: msg}
}

func Validation(op, msg string) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: msg}
}

// CodeOf extracts the taxonomy code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	if errors.Is(err, ErrNotFound) {
		return CodeNotFound
	}
	if errors.Is(err, ErrValidation) {
		return CodeValidation
	}
	return ""
}
