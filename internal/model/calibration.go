package model

import (
	"sort"
	"strings"
	"time"
)

// CalibrationRecord is one completed calibration event for a valve tag.
// Records are append-only: once created they are never mutated. Optional
// measurements and condition scores use pointers, never numeric sentinels,
// so that "not measured" is distinguishable from a real zero.
type CalibrationRecord struct {
	ID           string    `json:"id,omitempty" yaml:"id,omitempty"`
	Tag          string    `json:"tag" yaml:"tag"`
	CalibratedAt time.Time `json:"calibrated_at" yaml:"calibrated_at"`
	TestMedium   string    `json:"test_medium,omitempty" yaml:"test_medium,omitempty"`

	PreRepairPopTest   *float64 `json:"pre_repair_pop_test,omitempty" yaml:"pre_repair_pop_test,omitempty"`
	PostRepairPopTest  *float64 `json:"post_repair_pop_test,omitempty" yaml:"post_repair_pop_test,omitempty"`
	PreRepairLeakTest  *float64 `json:"pre_repair_leak_test,omitempty" yaml:"pre_repair_leak_test,omitempty"`
	PostRepairLeakTest *float64 `json:"post_repair_leak_test,omitempty" yaml:"post_repair_leak_test,omitempty"`

	// Condition scores are 1-5, 5 = best. Unset means unknown and is
	// excluded from weighted averages, not defaulted.
	BodyConditionScore     *int `json:"body_condition_score,omitempty" yaml:"body_condition_score,omitempty"`
	InternalConditionScore *int `json:"internal_condition_score,omitempty" yaml:"internal_condition_score,omitempty"`
	SeatConditionScore     *int `json:"seat_condition_score,omitempty" yaml:"seat_condition_score,omitempty"`

	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Validate checks the structural invariants of a calibration record.
func (r *CalibrationRecord) Validate() error {
	if strings.TrimSpace(r.Tag) == "" {
		return &ValidationError{Field: "tag", Reason: "must not be empty"}
	}
	if r.CalibratedAt.IsZero() {
		return &ValidationError{Field: "calibrated_at", Reason: "must be set"}
	}
	for field, v := range map[string]*float64{
		"pre_repair_pop_test":   r.PreRepairPopTest,
		"post_repair_pop_test":  r.PostRepairPopTest,
		"pre_repair_leak_test":  r.PreRepairLeakTest,
		"post_repair_leak_test": r.PostRepairLeakTest,
	} {
		if v != nil && *v < 0 {
			return &ValidationError{Field: field, Reason: "must not be negative"}
		}
	}
	for field, s := range map[string]*int{
		"body_condition_score":     r.BodyConditionScore,
		"internal_condition_score": r.InternalConditionScore,
		"seat_condition_score":     r.SeatConditionScore,
	} {
		if s != nil && (*s < 1 || *s > 5) {
			return &ValidationError{Field: field, Reason: "must be between 1 and 5"}
		}
	}
	return nil
}

// SortHistory orders records oldest-first by calibration date, with the record
// ID as a tiebreaker so repeated computations over the same inputs are
// deterministic.
func SortHistory(records []CalibrationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CalibratedAt.Equal(records[j].CalibratedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CalibratedAt.Before(records[j].CalibratedAt)
	})
}

// LatestRecord returns the most recent record in history, or nil when the
// valve has never been calibrated. History is the scheduling baseline.
func LatestRecord(records []CalibrationRecord) *CalibrationRecord {
	if len(records) == 0 {
		return nil
	}
	sorted := make([]CalibrationRecord, len(records))
	copy(sorted, records)
	SortHistory(sorted)
	return &sorted[len(sorted)-1]
}
