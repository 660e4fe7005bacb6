package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ConfigurationError signals an invalid or incomplete engine configuration,
// such as a chromosome without a ploidy mapping. It is fatal at load time and
// must never surface per request.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// InsufficientPoolMetadataError rejects a single pool import record whose
// mandatory size is missing. It never aborts a whole batch; absent sex
// ratios only degrade precision.
type InsufficientPoolMetadataError struct {
	Sample string
}

func (e InsufficientPoolMetadataError) Error() string {
	return fmt.Sprintf("pool %q has no size; size is mandatory", e.Sample)
}

// ScopeAuthorizationViolation is returned when a caller requests a scope
// outside their authorized set. Surfaced to the API layer as an
// authorization failure, never silently downgraded.
type ScopeAuthorizationViolation struct {
	ScopeKey string
}

func (e ScopeAuthorizationViolation) Error() string {
	return fmt.Sprintf("scope %q is not authorized for this caller", e.ScopeKey)
}
