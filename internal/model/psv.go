package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// PressureSafetyValve holds the identity and physical facts of a valve. The
// asset registry owns these records; the scheduling engine treats them as
// read-only input.
type PressureSafetyValve struct {
	Tag                  string    `json:"tag" yaml:"tag"`
	Description          string    `json:"description,omitempty" yaml:"description,omitempty"`
	Service              string    `json:"service" yaml:"service"`
	SetPressure          float64   `json:"set_pressure" yaml:"set_pressure"`
	FixedFrequencyMonths *int      `json:"fixed_frequency_months,omitempty" yaml:"fixed_frequency_months,omitempty"`
	CommissionedAt       time.Time `json:"commissioned_at" yaml:"commissioned_at"`
	Location             string    `json:"location,omitempty" yaml:"location,omitempty"`
}

// Validate checks the structural invariants of a valve record.
func (v *PressureSafetyValve) Validate() error {
	if strings.TrimSpace(v.Tag) == "" {
		return &ValidationError{Field: "tag", Reason: "must not be empty"}
	}
	if v.SetPressure <= 0 {
		return &ValidationError{Field: "set_pressure", Reason: "must be positive"}
	}
	if v.Service == "" {
		return &ValidationError{Field: "service", Reason: "must not be empty"}
	}
	if v.FixedFrequencyMonths != nil && *v.FixedFrequencyMonths < 1 {
		return &ValidationError{Field: "fixed_frequency_months", Reason: "must be at least 1"}
	}
	if v.CommissionedAt.IsZero() {
		return &ValidationError{Field: "commissioned_at", Reason: "must be set"}
	}
	return nil
}

// ServiceRiskCategory maps a service/fluid type to a Consequence-of-Failure
// score (1-5). Required only for level-4 risk-matrix scheduling.
type ServiceRiskCategory struct {
	Service     string `json:"service" yaml:"service"`
	CoFScore    int    `json:"cof_score" yaml:"cof_score"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks the structural invariants of a risk category.
func (c *ServiceRiskCategory) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return &ValidationError{Field: "service", Reason: "must not be empty"}
	}
	if c.CoFScore < 1 || c.CoFScore > 5 {
		return &ValidationError{Field: "cof_score", Reason: "must be between 1 and 5"}
	}
	return nil
}

var serviceFolder = cases.Fold()

// NormalizeService canonicalizes a service name for lookup so that
// "Natural Gas" and "natural gas" resolve to the same category.
func NormalizeService(service string) string {
	return serviceFolder.String(strings.TrimSpace(service))
}
