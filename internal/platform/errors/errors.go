package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain for SportChef errors.
const Domain = "github.com/louisbranch/sportchef"

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrConflict      = &Error{Code: CodeConflict}
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrInvalid       = &Error{Code: CodeInvalidArgument}
	ErrStorageFault  = &Error{Code: CodeStorageFault}
	ErrRecoveryFault = &Error{Code: CodeRecoveryFault}
	ErrUnavailable   = &Error{Code: CodeUnavailable}
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context such as entity ids
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode returns the code of the first *Error in the chain, or CodeUnknown.
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return stderrors.Is(err, ErrConflict) }

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return stderrors.Is(err, ErrNotFound) }

// IsStorageFault reports whether err carries CodeStorageFault.
func IsStorageFault(err error) bool { return stderrors.Is(err, ErrStorageFault) }

// IsRecoveryFault reports whether err carries CodeRecoveryFault.
func IsRecoveryFault(err error) bool { return stderrors.Is(err, ErrRecoveryFault) }

// ToGRPCStatus converts the error to a gRPC status with errdetails.
func (e *Error) ToGRPCStatus() error {
	grpcCode := e.Code.GRPCCode()
	st := status.New(grpcCode, e.Error())

	st, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return status.New(grpcCode, e.Error()).Err()
	}
	return st.Err()
}
