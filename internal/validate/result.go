package validate

import (
	"fmt"

	"unitforge/internal/model"
)

// Result is the outcome of a validation pass. Valid is false iff Errors is
// non-empty; warnings alone leave it valid.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) finish() Result {
	r.Valid = len(r.Errors) == 0
	return *r
}

// Err returns a *model.ValidationError when the result is invalid, else nil.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &model.ValidationError{Errors: r.Errors, Warnings: r.Warnings}
}
