// Package shared contains error types and helpers used across the scheduler.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer.
var (
	// ErrNotFound indicates that a job or run does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates that input or stored data failed validation
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates that the request conflicts with current state
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition indicates a run state transition that is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrIntegrity indicates corrupt or inconsistent persisted run data that needs operator attention
	ErrIntegrity = errors.New("data integrity violation")

	// ErrDependencyFailure indicates that an external dependency failed
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindNotFound represents missing jobs or runs
	KindNotFound
	// KindValidation represents validation errors
	KindValidation
	// KindConflict represents conflicts with current state
	KindConflict
	// KindInvalidTransition represents rejected run state transitions
	KindInvalidTransition
	// KindIntegrity represents data integrity violations
	KindIntegrity
	// KindDependencyFailure represents external dependency failures
	KindDependencyFailure
	// KindInternal represents internal errors
	KindInternal
	// KindTimeout represents deadline errors
	KindTimeout
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindIntegrity:
		return "Integrity"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindValidation:        ErrValidation,
	KindConflict:          ErrConflict,
	KindInvalidTransition: ErrInvalidTransition,
	KindIntegrity:         ErrIntegrity,
	KindDependencyFailure: ErrDependencyFailure,
	KindInternal:          ErrInternal,
}

// kindPriorities is the order in which KindOf checks the chain.
// Integrity is a marker combined with Validation or Conflict, so it comes last.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, context.Canceled},
	{KindTimeout, context.DeadlineExceeded},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindConflict, ErrConflict},
	{KindInvalidTransition, ErrInvalidTransition},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInternal, ErrInternal},
	{KindIntegrity, ErrIntegrity},
}

// KindOf returns the Kind of err by checking the chain against known sentinels
// in a fixed priority order. Returns KindUnknown for nil or unrecognized errors.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindNotFound:
//	    return http.StatusNotFound
//	case shared.KindConflict:
//	    return http.StatusConflict
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		if errors.Is(err, p.err) {
			return p.kind
		}
	}
	return KindUnknown
}

// HasKind reports whether err carries the given kind anywhere in its chain.
// Unlike KindOf it does not stop at the highest priority kind.
func HasKind(err error, kind Kind) bool {
	if err == nil {
		return kind == KindUnknown
	}
	for _, p := range kindPriorities {
		if p.kind == kind {
			return errors.Is(err, p.err)
		}
	}
	return false
}

// SentinelOf returns the sentinel error for kind, or nil for kinds without one.
func SentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps err with the sentinel for kind, preserving the original error.
// If err is nil the sentinel itself is returned. Marking is idempotent.
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil. If context is empty, err is returned unchanged.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether the error indicates a missing job or run.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether the error indicates a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether the error indicates a conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidTransition reports whether the error is a rejected state transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsIntegrity reports whether the error is a data integrity violation.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
