package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for replica operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeKeyNotFound     ErrorCode = 1001
	ErrCodeNotReady        ErrorCode = 1002
	ErrCodeStaleRead       ErrorCode = 1003

	// Server errors (5xx equivalent)
	ErrCodeInternal             ErrorCode = 2000
	ErrCodeUnavailable          ErrorCode = 2001
	ErrCodeCancelled            ErrorCode = 2002
	ErrCodeStoreFailed          ErrorCode = 2003
	ErrCodeBackfillerGone       ErrorCode = 2004
	ErrCodeMailboxClosed        ErrorCode = 2005
	ErrCodeBootstrapInterrupted ErrorCode = 2006
)

// ReplicaError represents a structured error with code and context
type ReplicaError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *ReplicaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ReplicaError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts ReplicaError to gRPC status
func (e *ReplicaError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *ReplicaError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeKeyNotFound:
		return codes.NotFound
	case ErrCodeNotReady, ErrCodeStaleRead:
		return codes.FailedPrecondition
	case ErrCodeCancelled, ErrCodeBootstrapInterrupted:
		return codes.Canceled
	case ErrCodeUnavailable, ErrCodeBackfillerGone, ErrCodeMailboxClosed:
		return codes.Unavailable
	case ErrCodeStoreFailed:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// NewReplicaError creates a new ReplicaError
func NewReplicaError(code ErrorCode, message string, cause error) *ReplicaError {
	return &ReplicaError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *ReplicaError) WithDetail(key string, value interface{}) *ReplicaError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeInvalidArgument, message, cause)
}

func KeyNotFound(key string) *ReplicaError {
	return NewReplicaError(ErrCodeKeyNotFound, fmt.Sprintf("key not found: %s", key), nil).
		WithDetail("key", key)
}

// NotReady rejects a synchronous write or read that arrived before the
// replica finished bootstrapping. The primary protocol should prevent
// this; arrivals in the race window are failed-precondition, not fatal.
func NotReady(op string) *ReplicaError {
	return NewReplicaError(ErrCodeNotReady, fmt.Sprintf("replica not ready for %s", op), nil).
		WithDetail("operation", op)
}

func StaleRead(minTimestamp, have uint64) *ReplicaError {
	return NewReplicaError(ErrCodeStaleRead,
		fmt.Sprintf("replica at timestamp %d, read requires %d", have, minTimestamp), nil).
		WithDetail("min_timestamp", minTimestamp).
		WithDetail("have", have)
}

func InternalError(message string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeUnavailable, message, cause)
}

func StoreFailed(message string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeStoreFailed, message, cause)
}

func BackfillerGone(peer string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeBackfillerGone, fmt.Sprintf("backfiller %s unavailable", peer), cause).
		WithDetail("peer", peer)
}

func MailboxClosed(name string) *ReplicaError {
	return NewReplicaError(ErrCodeMailboxClosed, fmt.Sprintf("mailbox %s closed", name), nil).
		WithDetail("mailbox", name)
}

func BootstrapInterrupted(cause error) *ReplicaError {
	return NewReplicaError(ErrCodeBootstrapInterrupted, "bootstrap interrupted", cause)
}

// IsReplicaError checks if an error is a ReplicaError
func IsReplicaError(err error) bool {
	var re *ReplicaError
	return errors.As(err, &re)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var re *ReplicaError
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}
