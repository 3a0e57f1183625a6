package model

import "fmt"

// ConfigurationError reports a policy that is missing a field required by its
// declared level, or is internally inconsistent (empty weight set, empty risk
// matrix bucket, inverted thresholds).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// NewConfigurationErrorf builds a ConfigurationError with a formatted reason.
func NewConfigurationErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// InsufficientDataError reports that a computation required calibration data
// that does not exist for the valve. Callers must handle the fallback
// explicitly; the engine never silently downgrades the level.
type InsufficientDataError struct {
	Tag    string
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %s", e.Tag, e.Reason)
}

// LookupError reports reference data that has no registered entry, e.g. a
// service with no risk category at level 4.
type LookupError struct {
	Kind string
	Key  string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no %s registered for %q", e.Kind, e.Key)
}

// ValidationError reports malformed input: negative pressures, condition
// scores outside 1-5, missing identifiers.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
