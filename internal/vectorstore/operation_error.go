package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

type OperationErrorCode string

const (
	OperationErrorValidation        OperationErrorCode = "validation_failed"
	OperationErrorUnsupportedFilter OperationErrorCode = "unsupported_filter"
	OperationErrorEncodeFailed      OperationErrorCode = "encode_failed"
	OperationErrorDecodeFailed      OperationErrorCode = "decode_failed"
	OperationErrorTransportFailed   OperationErrorCode = "transport_failed"
	OperationErrorTimeout           OperationErrorCode = "timeout"
	OperationErrorQueryFailed       OperationErrorCode = "query_failed"
	OperationErrorNotFound          OperationErrorCode = "not_found"
)

// OperationError is the typed failure for vector store calls.
type OperationError struct {
	Code       OperationErrorCode
	Operation  string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	if e == nil {
		return "vector store operation failed"
	}
	if e.Message != "" {
		return fmt.Sprintf("vector store operation failed (op=%s code=%s status=%d): %s",
			e.Operation, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vector store operation failed (op=%s code=%s status=%d): %v",
		e.Operation, e.Code, e.StatusCode, e.Cause)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func opErr(op string, code OperationErrorCode, msg string, cause error) error {
	return &OperationError{Code: code, Operation: op, Message: msg, Cause: cause}
}

// classifyCallError maps transport failures onto the timeout/transport
// codes so startup can distinguish "server down" from "server unhappy".
func classifyCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

// IsConnectionError reports whether err looks like the server being
// unreachable rather than rejecting the request.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var typed *OperationError
	if errors.As(err, &typed) {
		if typed.Code == OperationErrorTransportFailed || typed.Code == OperationErrorTimeout {
			return true
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, term := range []string{"connection", "refused", "timeout", "unreachable", "no such host"} {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return false
}
