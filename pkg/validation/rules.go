package validation

import (
	"errors"
	"fmt"

	"github.com/hengadev/errsx"

	dErrors "optout/pkg/domain-errors"
)

// Rule is a named predicate over a request. Field names the input the rule guards;
// Message is reported when Check returns false.
type Rule[T any] struct {
	Field   string
	Message string
	Check   func(T) bool
}

// Rules is an ordered rule list. Every rule is evaluated so the caller gets all
// field problems at once, but only the first failure per field is kept.
type Rules[T any] []Rule[T]

// Evaluate runs the rules against v and returns the failures keyed by field, or nil.
func (rs Rules[T]) Evaluate(v T) error {
	var errs errsx.Map
	failed := make(map[string]bool, len(rs))
	for _, r := range rs {
		if failed[r.Field] {
			continue
		}
		if !r.Check(v) {
			failed[r.Field] = true
			errs.Set(r.Field, errors.New(r.Message))
		}
	}
	if errs.IsEmpty() {
		return nil
	}
	return errs.AsError()
}

// Validate evaluates the rules and wraps failures as an invalid-input domain error
// whose message lists the failing fields.
func (rs Rules[T]) Validate(v T) error {
	err := rs.Evaluate(v)
	if err == nil {
		return nil
	}
	return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request: "+err.Error())
}

// FieldErrors extracts per-field messages from a validation failure.
func FieldErrors(err error) map[string]string {
	var errs errsx.Map
	if !errors.As(err, &errs) {
		return nil
	}
	out := make(map[string]string, len(errs))
	for field, msg := range errs {
		out[field] = fmt.Sprint(msg)
	}
	return out
}
