package usecase

import (
	"sort"
	"strings"
)

// ValidationError carries per-field messages; it never reaches a payment
// processor.
type ValidationError map[string]string

func (e ValidationError) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// DeclinedError surfaces as 402 with the observed intent status so the
// client can distinguish "retry with a new method" from hard failures.
type DeclinedError struct {
	Code    string
	Message string
	Status  string
}

func (e *DeclinedError) Error() string { return e.Message }

type ErrNotFound string

func (e ErrNotFound) Error() string { return string(e) + " not found" }

type ErrConflict string

func (e ErrConflict) Error() string { return string(e) }

type ErrBadRequest string

func (e ErrBadRequest) Error() string { return string(e) }
