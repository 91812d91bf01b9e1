package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is matched by every *InvalidInputError.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a command is not valid in the
	// current simulation phase.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrNotConfigured is returned by Start when no configuration has been
	// accepted yet.
	ErrNotConfigured = errors.New("simulation not configured")
)

// InvalidInputError describes a rejected coordinate, speed, radius or rate.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidInput) match.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalidInput(field, format string, args ...any) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
