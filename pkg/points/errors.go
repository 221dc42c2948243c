package points

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the points service.
var (
	ErrNonPositiveAmount    = errors.New("non-positive amount")
	ErrExceedsMaxBalance    = errors.New("exceeds max balance")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrStorageFailure       = errors.New("storage failure")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// IsRejection reports whether err is a recoverable validation refusal.
// Rejections never mutate state.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNonPositiveAmount) ||
		errors.Is(err, ErrExceedsMaxBalance) ||
		errors.Is(err, ErrInsufficientBalance)
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// storageFailure tags a collaborator error as ErrStorageFailure unless it
// already carries that classification.
func storageFailure(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageFailure) {
		return err
	}
	return WrapError(operation, subject, code, fmt.Errorf("%w: %w", ErrStorageFailure, err))
}
