package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Data errors
	ErrInvalidInput      = errors.New("invalid input")
	ErrMissingColumn     = errors.New("missing column")
	ErrMissingTarget     = errors.New("missing target")
	ErrEmptyTarget       = errors.New("target has no observations")
	ErrOutOfRange        = errors.New("value out of range")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrDuplicateKey      = errors.New("duplicate key")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnknownTarget        = errors.New("unknown target")
	ErrUnknownModelType     = fmt.Errorf("%w: unknown model type", ErrInvalidConfiguration)

	// Lifecycle errors
	ErrNotFitted = errors.New("estimator is not fitted")
)

// Error constructors with context
func NewInvalidInputError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, field, reason)
}

func NewMissingColumnError(column string) error {
	return fmt.Errorf("%w: %s", ErrMissingColumn, column)
}

func NewMissingTargetError(target string) error {
	return fmt.Errorf("%w: %s", ErrMissingTarget, target)
}

func NewEmptyTargetError(target string) error {
	return fmt.Errorf("%w: %s", ErrEmptyTarget, target)
}

func NewUnknownTargetError(target string) error {
	return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
}

func NewOutOfRangeError(column string, row string, value, min, max float64) error {
	return fmt.Errorf("%w: column %s row %s value %g outside [%g, %g]", ErrOutOfRange, column, row, value, min, max)
}

func NewConfigurationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfiguration, field, reason)
}

func NewDimensionError(what string, want, got int) error {
	return fmt.Errorf("%w: %s: want %d, got %d", ErrDimensionMismatch, what, want, got)
}

// Error checking helpers
func IsDataError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrMissingColumn) ||
		errors.Is(err, ErrMissingTarget) ||
		errors.Is(err, ErrEmptyTarget) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrDuplicateKey)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrUnknownTarget)
}
