package flux

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input-shape errors: fatal, raised before any matrix arithmetic
	ErrEmptyTable   = errors.New("flux table is empty")
	ErrAxisMismatch = errors.New("flavor-energy axis mismatch")
	ErrMissingEntry = errors.New("missing flavor-energy entry")

	// Configuration errors
	ErrUnknownRun      = errors.New("unknown beamline run")
	ErrUnknownCategory = errors.New("unknown systematic category")
	ErrBadWindow       = errors.New("invalid energy window")

	// Lifecycle errors
	ErrNotComputed = errors.New("results not computed yet")
)

// Error constructors with context
func NewMissingEntryError(key Key, detail string) error {
	return fmt.Errorf("%w: %s (%s)", ErrMissingEntry, key, detail)
}

func NewAxisMismatchError(context string) error {
	return fmt.Errorf("%w: %s", ErrAxisMismatch, context)
}

func NewUnknownRunError(runID int) error {
	return fmt.Errorf("%w: run %d", ErrUnknownRun, runID)
}

func NewUnknownCategoryError(category string) error {
	return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}

// Error checking helpers
func IsInputShapeError(err error) bool {
	return errors.Is(err, ErrEmptyTable) ||
		errors.Is(err, ErrAxisMismatch) ||
		errors.Is(err, ErrMissingEntry)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownRun) ||
		errors.Is(err, ErrUnknownCategory) ||
		errors.Is(err, ErrBadWindow)
}
