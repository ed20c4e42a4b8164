// Package errors provides the typed error taxonomy used across the merge kit.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeConflictNotFound         ErrorCode = "CONFLICT_NOT_FOUND"
	ErrCodeManualResolutionRequired ErrorCode = "MANUAL_RESOLUTION_REQUIRED"
	ErrCodeAutoMergeFailed          ErrorCode = "AUTO_MERGE_FAILED"
	ErrCodeValidationFailure        ErrorCode = "VALIDATION_FAILURE"
	ErrCodeStorageFailure           ErrorCode = "STORAGE_FAILURE"
	ErrCodeConfigFailure            ErrorCode = "CONFIG_FAILURE"
)

// Kind classifies an error by how a caller is expected to react to it.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindInvalid     Kind = "invalid"
	KindConflict    Kind = "conflict"
	KindInternal    Kind = "internal"
	KindUnavailable Kind = "unavailable"
)

// Operation represents the engine operation that failed
type Operation string

// Op is shorthand used with E.
type Op = Operation

// Component names the part of the engine that produced an error.
type Component string

const (
	OpDetect        Operation = "detect"
	OpResolve       Operation = "resolve"
	OpMerge         Operation = "merge"
	OpUpdateOptions Operation = "update_options"
	OpLoadPolicy    Operation = "load_policy"
	OpAuditSave     Operation = "audit_save"
	OpAuditLoad     Operation = "audit_load"
	OpClose         Operation = "close"
)

// Sentinel causes. Every ConflictError built by the constructors below wraps
// one of these, so errors.Is works through any number of wrapping layers.
var (
	ErrConflictNotFound         = errors.New("conflict not found")
	ErrManualResolutionRequired = errors.New("manual resolution required")
	ErrAutoMergeFailed          = errors.New("overlapping changes prevent automatic merge")
)

// ConflictError represents an error raised by the conflict engine
type ConflictError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "registry", "executor")
	Component string

	// Kind of failure
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *ConflictError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports an unknown conflict id.
func NewNotFoundError(op Operation, conflictID string) *ConflictError {
	return &ConflictError{
		Code:      ErrCodeConflictNotFound,
		Kind:      KindNotFound,
		Op:        op,
		Component: "registry",
		Err:       fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID),
		Metadata:  map[string]interface{}{"conflict_id": conflictID},
	}
}

// NewManualRequiredError reports a manual strategy invoked without content.
func NewManualRequiredError(op Operation, conflictID string) *ConflictError {
	return &ConflictError{
		Code:      ErrCodeManualResolutionRequired,
		Kind:      KindInvalid,
		Op:        op,
		Component: "executor",
		Err:       ErrManualResolutionRequired,
		Metadata:  map[string]interface{}{"conflict_id": conflictID},
	}
}

// NewAutoMergeError reports overlapping changes found by the three-way merge.
func NewAutoMergeError(op Operation, overlapping []int) *ConflictError {
	return &ConflictError{
		Code:      ErrCodeAutoMergeFailed,
		Kind:      KindConflict,
		Op:        op,
		Component: "executor",
		Err:       ErrAutoMergeFailed,
		Metadata:  map[string]interface{}{"overlapping_lines": overlapping},
	}
}

// NewStorageError creates a new storage-related ConflictError
func NewStorageError(op Operation, cause error) *ConflictError {
	return &ConflictError{
		Code:      ErrCodeStorageFailure,
		Kind:      KindUnavailable,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related ConflictError
func NewValidationError(op Operation, cause error) *ConflictError {
	return &ConflictError{
		Code:      ErrCodeValidationFailure,
		Kind:      KindInvalid,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewConfigError creates a policy configuration ConflictError
func NewConfigError(op Operation, cause error) *ConflictError {
	return &ConflictError{
		Code:      ErrCodeConfigFailure,
		Kind:      KindInvalid,
		Op:        op,
		Component: "config",
		Err:       cause,
	}
}

// New creates a new ConflictError
func New(op Operation, err error) *ConflictError {
	return &ConflictError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new ConflictError with component information
func NewWithComponent(op Operation, component string, err error) *ConflictError {
	return &ConflictError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// E builds a ConflictError from loosely ordered arguments. Recognized
// argument types are Operation, Component, Kind, ErrorCode, error and string;
// strings are collected into Metadata["detail"]. Unknown types are ignored.
func E(args ...interface{}) error {
	e := &ConflictError{}
	var details []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case error:
			e.Err = a
		case string:
			details = append(details, a)
		}
	}
	if e.Err == nil {
		e.Err = errors.New("unknown error")
	}
	if len(details) > 0 {
		e.Metadata = map[string]interface{}{"detail": details}
	}
	return e
}

// IsRetryable checks if an error is a retryable ConflictError
func IsRetryable(err error) bool {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// CodeOf returns the code of the outermost ConflictError in err's chain.
func CodeOf(err error) ErrorCode {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// KindOf returns the first non-empty Kind found in err's chain.
func KindOf(err error) Kind {
	for err != nil {
		var ce *ConflictError
		if !errors.As(err, &ce) {
			return ""
		}
		if ce.Kind != "" {
			return ce.Kind
		}
		err = ce.Err
	}
	return ""
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }
