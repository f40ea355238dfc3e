package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAggregateNotFound indicates the referenced business vanished between
	// the caller's load and the operation's fresh read.
	ErrAggregateNotFound = errors.New("business not found")
	// ErrEntryNotFound indicates the referenced ledger entry no longer exists.
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrConflictExhausted indicates the store's optimistic retry budget was
	// spent under contention. The whole operation is safe to retry from scratch.
	ErrConflictExhausted = errors.New("too many conflicting writers, retry the operation")
)

// ValidationError reports malformed input, surfaced before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PartialConversionError reports a bulk rescale that converted some but not
// all of a user's businesses. Converted holds the business IDs whose aggregate
// and entries were fully rewritten; the remainder were left untouched.
type PartialConversionError struct {
	Converted []string
	Failed    string
	Err       error
}

func (e *PartialConversionError) Error() string {
	return fmt.Sprintf("conversion stopped at business %s after converting [%s]: %v",
		e.Failed, strings.Join(e.Converted, ", "), e.Err)
}

func (e *PartialConversionError) Unwrap() error { return e.Err }
