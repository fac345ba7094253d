package consolidation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup matches no patient.
	ErrNotFound = errors.New("patient not found")

	// ErrDuplicatePhone is returned when an insert collides with the
	// active-phone uniqueness constraint. The facade treats it as "lost the
	// creation race" and re-resolves instead of failing.
	ErrDuplicatePhone = errors.New("phone already registered to an active patient")

	// ErrDuplicateAccessID is returned when an insert collides with the
	// active access-ID uniqueness constraint.
	ErrDuplicateAccessID = errors.New("access id already in use by an active patient")
)

// ValidationError marks a candidate that cannot be processed: a missing
// mandatory field or an unparseable value. It is local to the single
// candidate; batch callers record it and continue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate: %s: %s", e.Field, e.Reason)
}

// ConcurrencyExhaustedError means the create-or-merge race-retry loop ran
// out of attempts. Retryable later by the caller.
type ConcurrencyExhaustedError struct {
	Attempts int
}

func (e *ConcurrencyExhaustedError) Error() string {
	return fmt.Sprintf("create-or-merge contention not resolved after %d attempts", e.Attempts)
}

// AllocationExhaustedError means access-ID generation could not find a free
// code within its attempt budget. Fatal and operationally actionable: the
// active-code space is nearly saturated.
type AllocationExhaustedError struct {
	Attempts int
}

func (e *AllocationExhaustedError) Error() string {
	return fmt.Sprintf("no free access id found after %d attempts", e.Attempts)
}

// AuditWriteFailure means the audit event for an otherwise successful
// mutation could not be persisted. The enclosing transaction is rolled
// back; a canonical-record mutation is never left unaudited.
type AuditWriteFailure struct {
	Err error
}

func (e *AuditWriteFailure) Error() string {
	return fmt.Sprintf("audit event write failed: %v", e.Err)
}

func (e *AuditWriteFailure) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. Transient marks conditions worth
// retrying with backoff (connection loss, serialization conflicts).
type PersistenceError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a PersistenceError flagged transient.
func IsTransient(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Transient
}
