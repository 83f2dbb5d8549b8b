package errors

import (
	"fmt"
	"net/http"

	crdb "github.com/cockroachdb/errors"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// NotFound indicates the request matched neither a file nor a route
	NotFound ErrorCode = "NOT_FOUND"
	// HandlerFault indicates a handler failed while producing a response
	HandlerFault ErrorCode = "HANDLER_FAULT"
	// StartupFault indicates the listener could not be bound
	StartupFault ErrorCode = "STARTUP_FAULT"
	// ConfigInvalid indicates a bad host, port or logging setting
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Canned response bodies. Clients never see anything else.
const (
	NotFoundBody = "Not Found!"
	FaultBody    = "Something broke!"
)

// ServeError represents a pubsrv error with a code and a message
type ServeError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	cause   error     // Underlying error, carries the stack trace
}

// New creates a ServeError whose cause records the caller's stack.
func New(code ErrorCode, message string) *ServeError {
	return &ServeError{
		Code:    code,
		Message: message,
		cause:   crdb.NewWithDepth(1, message),
	}
}

// Wrap creates a ServeError around cause, attaching the caller's stack trace.
func Wrap(code ErrorCode, cause error, message string) *ServeError {
	if cause == nil {
		cause = crdb.NewWithDepth(1, message)
	}
	return &ServeError{
		Code:    code,
		Message: message,
		cause:   crdb.WithStackDepth(cause, 1),
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...interface{}) *ServeError {
	return Wrap(code, cause, fmt.Sprintf(format, args...))
}

// Error implements the error interface
func (e *ServeError) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServeError) Unwrap() error {
	return e.cause
}

// Format implements fmt.Formatter. %+v prints the message followed by the
// cause chain and its stack trace.
func (e *ServeError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') && e.cause != nil {
		_, _ = fmt.Fprintf(s, "[%s] %s\n%+v", e.Code, e.Message, e.cause)
		return
	}
	_, _ = fmt.Fprint(s, e.Error())
}

// CodeOf returns the code of the first ServeError in err's chain, or
// InternalError if there is none.
func CodeOf(err error) ErrorCode {
	var se *ServeError
	if crdb.As(err, &se) {
		return se.Code
	}
	return InternalError
}

// StatusFor maps error codes to HTTP status codes
func StatusFor(code ErrorCode) int {
	switch code {
	case NotFound:
		return http.StatusNotFound // 404
	default:
		return http.StatusInternalServerError // 500
	}
}

// PublicBody returns the body sent to clients for code. Internal detail is
// never part of it.
func PublicBody(code ErrorCode) string {
	if code == NotFound {
		return NotFoundBody
	}
	return FaultBody
}
