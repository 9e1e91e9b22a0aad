package provisioning

import (
	"errors"
	"fmt"
)

// Class buckets provisioning failures by retry policy.
type Class string

const (
	// ClassInvalidSpec marks malformed input. Never retried.
	ClassInvalidSpec Class = "invalid_spec"
	// ClassAlreadyExists marks a duplicate resource. Never retried;
	// the caller must deprovision first.
	ClassAlreadyExists Class = "already_exists"
	// ClassTransient marks an unreachable or timed-out external
	// system. Retried with backoff up to the attempt cap.
	ClassTransient Class = "transient_failure"
	// ClassRolledBack marks a multi-step provision that failed after
	// creating sub-resources, all of which were deleted before
	// returning. Retryability follows the underlying cause.
	ClassRolledBack Class = "partial_failure_rolled_back"
)

// Error is a classified provisioning failure.
type Error struct {
	Class    Class
	Resource string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Resource, e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Resource, e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InvalidSpec reports malformed caller input for a resource.
func InvalidSpec(resource, format string, args ...any) error {
	return &Error{Class: ClassInvalidSpec, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists reports a duplicate identifying key.
func AlreadyExists(resource, format string, args ...any) error {
	return &Error{Class: ClassAlreadyExists, Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps an external-system failure that is safe to retry.
func Transient(resource string, cause error) error {
	return &Error{Class: ClassTransient, Resource: resource, Message: "external system failure", Cause: cause}
}

// RolledBack wraps the cause of a compensated partial failure. The
// caller sees only this error, never a half-created resource.
func RolledBack(resource string, cause error) error {
	return &Error{Class: ClassRolledBack, Resource: resource, Message: "provisioning rolled back", Cause: cause}
}

// ClassOf extracts the failure class, empty for unclassified errors.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ""
}

// Retryable decides whether the standard retry/backoff policy applies.
// Unclassified errors come from external collaborators and are treated
// as transient; a rolled-back failure inherits from its cause.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if !errors.As(err, &pe) {
		return true
	}
	switch pe.Class {
	case ClassInvalidSpec, ClassAlreadyExists:
		return false
	case ClassTransient:
		return true
	case ClassRolledBack:
		if pe.Cause == nil {
			return false
		}
		return Retryable(pe.Cause)
	default:
		return true
	}
}
