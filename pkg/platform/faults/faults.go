// Package faults implements the error translation boundary shared by every service.
//
// Services return domain errors (pkg/domain-errors) for business outcomes and wrapped
// sentinel or adapter errors for infrastructure failures. At each public entry point the
// Translator turns whatever came back into exactly one *Fault carrying one of four kinds,
// logging it once. Faults that are already translated pass through untouched, so a fault
// unwinding through nested services is never logged twice.
package faults

import (
	"errors"
	"log/slog"
)

// Kind is the externally meaningful failure category.
type Kind string

const (
	// KindValidation: bad input or a business-rule refusal the caller can correct.
	KindValidation Kind = "validation"
	// KindDependencyValidation: a collaborator rejected the request on a rule it owns
	// (duplicate key, concurrency conflict, unknown identifier at the registry).
	KindDependencyValidation Kind = "dependency_validation"
	// KindDependency: a collaborator is unavailable or answered with something unexpected.
	KindDependency Kind = "dependency"
	// KindService: anything uncategorized.
	KindService Kind = "service"
)

// LevelCritical sits above slog.LevelError and is reserved for raw infrastructure faults.
const LevelCritical = slog.Level(12)

// Fault is the single wrapper type that crosses a service boundary.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Op + ": " + string(f.Kind)
	}
	return f.Op + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// ClientFacing reports whether the underlying message may be shown to the caller.
func (k Kind) ClientFacing() bool {
	return k == KindValidation || k == KindDependencyValidation
}

// KindOf returns the kind of the first fault in the chain.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Rejection is implemented by adapter errors that know whether the collaborator refused
// the request on its own rules (true) or failed to answer properly (false).
type Rejection interface {
	Rejected() bool
}
