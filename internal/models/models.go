// package models defines the data model for the catalog reconciliation service
package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/shared"
)

// Validator is implemented by every persistent entity.
type Validator interface {
	Validate() error // Validate checks field values and cross-field invariants
}

// Clock returns the current time; swapped in tests.
type Clock func() time.Time

// invalid wraps msg with [shared.ErrInvalidInput].
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// inconsistent wraps msg with [shared.ErrInconsistent].
func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrInconsistent, fmt.Sprintf(format, args...))
}
