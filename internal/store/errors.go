package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDescriptor is returned when a descriptor fails validation.
	ErrInvalidDescriptor = errors.New("invalid storage descriptor")

	// ErrUnreadable means the store cannot be parsed as any known schema version.
	ErrUnreadable = errors.New("store is unreadable")

	// ErrMigrationRequired means a migration is needed but the options disallow it.
	ErrMigrationRequired = errors.New("store requires migration")

	ErrPrepareFailed     = errors.New("pre-erase preparation failed")
	ErrEnumerationFailed = errors.New("store file enumeration failed")
	ErrPartialDelete     = errors.New("store partially deleted")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, args...))
}

// EraseError reports a failed EraseAndWait. Kind is one of ErrPrepareFailed,
// ErrEnumerationFailed or ErrPartialDelete.
//
// For ErrPartialDelete the store is left inconsistent: Deleted lists the files
// already removed and Remaining the files still present. It must not be
// retried without manual cleanup.
type EraseError struct {
	Kind      error
	Location  string
	Deleted   []string
	Remaining []string
	Err       error
}

func (e *EraseError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "erase %s: %v", e.Location, e.Kind)
	if e.Kind == ErrPartialDelete {
		fmt.Fprintf(&sb, " (deleted %d, remaining %d)", len(e.Deleted), len(e.Remaining))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *EraseError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel in Kind so callers can use errors.Is(err, ErrPartialDelete).
func (e *EraseError) Is(target error) bool {
	return target == e.Kind
}
