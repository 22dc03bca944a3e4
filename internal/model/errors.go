package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound: no persisted record or no installed unit for a name.
	ErrNotFound = errors.New("not found")
	// ErrCorruptConfiguration: a persisted record or unit file could not be decoded.
	ErrCorruptConfiguration = errors.New("corrupt configuration")
	// ErrPermissionDenied: the operation needs privileges the caller does not hold.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidConfiguration is matched by every *ValidationError.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ValidationError carries the messages of a failed static validation pass.
// It never indicates that existing state was touched.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrInvalidConfiguration.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfiguration, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// NotFound wraps ErrNotFound with the missing subject.
func NotFound(what, name string) error {
	return fmt.Errorf("%s %q: %w", what, name, ErrNotFound)
}

// Corrupt wraps ErrCorruptConfiguration with the offending path and cause.
func Corrupt(path string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", path, ErrCorruptConfiguration)
	}
	return fmt.Errorf("%s: %w: %v", path, ErrCorruptConfiguration, cause)
}
