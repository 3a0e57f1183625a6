package model

import "time"

// RBICalculationResult is the engine output for a single valve. It is a value
// object: the engine never persists it, the caller decides whether to commit.
// All intermediate scores are carried for audit and debugging, not just the
// final date.
type RBICalculationResult struct {
	Tag           string   `json:"tag"`
	Level         RBILevel `json:"level"`
	PolicyID      string   `json:"policy_id,omitempty"`
	PolicyName    string   `json:"policy_name,omitempty"`
	PolicyVersion int      `json:"policy_version,omitempty"`

	// BaselineRecordID identifies the calibration record the computation was
	// anchored on, empty for a never-calibrated valve at level 1.
	BaselineRecordID string `json:"baseline_record_id,omitempty"`

	TestFactor       *float64           `json:"test_factor,omitempty"`
	PoF              *float64           `json:"pof,omitempty"`
	CoF              *int               `json:"cof,omitempty"`
	ComponentFactors map[string]float64 `json:"component_factors,omitempty"`
	RiskCategory     string             `json:"risk_category,omitempty"`

	RecommendedIntervalMonths float64   `json:"recommended_interval_months"`
	NextDue                   time.Time `json:"next_due"`
}

// PreviewEntry is the per-tag outcome of a policy preview: the due date under
// the currently active policy, the due date under the candidate policy, and
// any per-tag failure. A nil date with an empty error means no active policy
// exists for that side of the comparison.
type PreviewEntry struct {
	Current *time.Time `json:"current"`
	New     *time.Time `json:"new"`
	Error   string     `json:"error,omitempty"`
}
