package section

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every *NotFoundError.
var ErrNotFound = errors.New("section: not found")

// NotFoundError is returned by Show for an id that is not registered or
// has no element on the surface. Nothing was mutated.
type NotFoundError struct {
	ID     string
	Reason string // "unregistered" or "no element"
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("section: %q not found (%s)", e.ID, e.Reason)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// HookError wraps the failure of one post-activation hook. It is reported
// and never returned by Show.
type HookError struct {
	SectionID string
	Index     int // registration index among the section's hooks
	Err       error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("section: hook %d for %q: %v", e.Index, e.SectionID, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
