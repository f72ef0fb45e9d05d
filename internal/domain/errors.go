package domain

import "errors"

var (
	// ErrValidation marks a value or configuration rejected at construction time.
	ErrValidation = errors.New("validation error")

	// ErrInvalidOperation marks a relationship transition that is not allowed from the current state.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)
