// Package errors provides structured error handling shared by the record
// managers and the layers that call them.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Domain errors: ordinary results returned to the caller.
	CodeConflict        Code = "CONFLICT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// System faults: the store cannot serve the request.
	CodeStorageFault  Code = "STORAGE_FAULT"
	CodeRecoveryFault Code = "RECOVERY_FAULT"
	CodeUnavailable   Code = "UNAVAILABLE"
	CodeInternal      Code = "INTERNAL"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeConflict:
		return codes.AlreadyExists
	case CodeStorageFault, CodeUnavailable:
		return codes.Unavailable
	case CodeRecoveryFault:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeStorageFault, CodeUnavailable, CodeRecoveryFault:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the same request later.
// Domain results never are: the answer would not change.
func (c Code) Retryable() bool {
	return c == CodeUnavailable
}

// Domain reports whether the code is an ordinary domain result rather than
// a system fault.
func (c Code) Domain() bool {
	switch c {
	case CodeConflict, CodeNotFound, CodeInvalidArgument:
		return true
	default:
		return false
	}
}
