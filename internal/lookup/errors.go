package lookup

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for registry calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the registry took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the registry returned invalid or malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates our credentials were refused
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the registry is unavailable or the breaker is open
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorNotFound indicates the registry has no patient for the identifier
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal indicates a failure on our side of the call
	ErrorInternal ErrorCategory = "internal"
)

// ProviderError wraps registry failures with a normalized category.
type ProviderError struct {
	Category   ErrorCategory
	Message    string
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("patient registry [%s]: %s: %v", e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("patient registry [%s]: %s", e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// Rejected is true when the registry answered and refused on its own data, as opposed to
// failing to answer. Only an unknown identifier qualifies.
func (e *ProviderError) Rejected() bool {
	return e.Category == ErrorNotFound
}

// countsAsFailure reports whether the breaker should count this outcome against the registry.
func (e *ProviderError) countsAsFailure() bool {
	switch e.Category {
	case ErrorTimeout, ErrorProviderOutage, ErrorRateLimited, ErrorBadData:
		return true
	}
	return false
}

func newError(category ErrorCategory, message string, underlying error) *ProviderError {
	return &ProviderError{Category: category, Message: message, Underlying: underlying}
}

// CategoryOf extracts the category from an error, or ErrorInternal.
func CategoryOf(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}
