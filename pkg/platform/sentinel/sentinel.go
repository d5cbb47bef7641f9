// Package sentinel holds infrastructure-level errors shared by stores and adapters.
package sentinel

import "errors"

// Sentinel dependency errors. Dependencies should return these (optionally wrapped)
// so services can translate them exactly once at the fault boundary.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrTimeout     = errors.New("timeout")
	ErrBadData     = errors.New("bad data")
	ErrRejected    = errors.New("rejected")
)
