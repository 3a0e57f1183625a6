package rbi

import (
	"time"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// MinIntervalMonths is the floor for every adjusted interval. However poor the
// test results, a valve is never scheduled more often than monthly.
const MinIntervalMonths = 1.0

// avgDaysPerMonth converts the fractional part of an adjusted interval into
// days. Whole months are added calendar-exact, so integral intervals land on
// the same day-of-month as the anchor date.
const avgDaysPerMonth = 30.4375

// PoF bucket thresholds for the level-4 risk matrix.
const (
	PoFMediumThreshold = 0.33
	PoFHighThreshold   = 0.66
)

// CoF bucket bounds for the level-4 risk matrix.
const (
	CoFLowMax    = 2
	CoFMediumMax = 4
)

// fixedIntervalMonths resolves the base interval: the policy's fixed_interval
// when present, else the valve's own fixed frequency.
func fixedIntervalMonths(valve *model.PressureSafetyValve, cfg *model.RBIConfiguration) (int, error) {
	if cfg.Settings.FixedIntervalMonths != nil {
		return *cfg.Settings.FixedIntervalMonths, nil
	}
	if valve.FixedFrequencyMonths != nil {
		return *valve.FixedFrequencyMonths, nil
	}
	return 0, model.NewConfigurationErrorf(
		"policy %q has no fixed_interval and valve %s has no fixed frequency", cfg.Name, valve.Tag)
}

// dueDate adds a possibly fractional number of months to the anchor date.
func dueDate(anchor time.Time, months float64) time.Time {
	whole := int(months)
	due := anchor.AddDate(0, whole, 0)
	if frac := months - float64(whole); frac > 0 {
		due = due.Add(time.Duration(frac * avgDaysPerMonth * 24 * float64(time.Hour)))
	}
	return due
}

func floorInterval(months float64) float64 {
	if months < MinIntervalMonths {
		return MinIntervalMonths
	}
	return months
}

// scheduleAnchor is the date the interval counts from: the latest calibration,
// or the commissioning date for a never-calibrated valve (first-due policy).
func scheduleAnchor(valve *model.PressureSafetyValve, latest *model.CalibrationRecord) time.Time {
	if latest != nil {
		return latest.CalibratedAt
	}
	return valve.CommissionedAt
}

// resolveFixed implements level 1: the plain fixed interval. History content
// is ignored beyond its date; no scoring is performed.
func resolveFixed(valve *model.PressureSafetyValve, cfg *model.RBIConfiguration, latest *model.CalibrationRecord) (*model.RBICalculationResult, error) {
	fixed, err := fixedIntervalMonths(valve, cfg)
	if err != nil {
		return nil, err
	}
	return &model.RBICalculationResult{
		RecommendedIntervalMonths: float64(fixed),
		NextDue:                   dueDate(scheduleAnchor(valve, latest), float64(fixed)),
	}, nil
}

// resolveTestAdjusted implements level 2: the fixed interval shortened by the
// post-repair test factor. A fully compliant result keeps the full interval, a
// maximally out-of-band result halves it.
func resolveTestAdjusted(valve *model.PressureSafetyValve, cfg *model.RBIConfiguration, latest *model.CalibrationRecord) (*model.RBICalculationResult, error) {
	fixed, err := fixedIntervalMonths(valve, cfg)
	if err != nil {
		return nil, err
	}
	factors, combined, err := testFactors(latest, valve.SetPressure, cfg.Settings)
	if err != nil {
		return nil, err
	}
	if combined == nil {
		return nil, &model.InsufficientDataError{
			Tag:    valve.Tag,
			Reason: "latest calibration has no post-repair test results",
		}
	}

	interval := floorInterval(float64(fixed) * (1 - 0.5**combined))
	return &model.RBICalculationResult{
		TestFactor:                combined,
		ComponentFactors:          factors,
		RecommendedIntervalMonths: interval,
		NextDue:                   dueDate(latest.CalibratedAt, interval),
	}, nil
}

// resolveConditionPoF implements level 3: a weighted probability-of-failure
// over condition scores and the level-2 test factor. Components missing either
// a weight or a data point are excluded from numerator and denominator, so
// absent data is never rewarded as zero risk.
func resolveConditionPoF(valve *model.PressureSafetyValve, cfg *model.RBIConfiguration, latest *model.CalibrationRecord) (*model.RBICalculationResult, error) {
	fixed, err := fixedIntervalMonths(valve, cfg)
	if err != nil {
		return nil, err
	}

	testComponents, combined, err := testFactors(latest, valve.SetPressure, cfg.Settings)
	if err != nil {
		return nil, err
	}

	factors := make(map[string]float64, 4)
	for param, score := range map[string]*int{
		model.ParamBody:     latest.BodyConditionScore,
		model.ParamInternal: latest.InternalConditionScore,
		model.ParamSeat:     latest.SeatConditionScore,
	} {
		if score == nil {
			continue
		}
		f, err := ScoreCondition(*score)
		if err != nil {
			return nil, err
		}
		factors[param] = f
	}
	if combined != nil {
		factors[model.ParamPopTest] = *combined
	}

	var num, den float64
	for param, weight := range cfg.Settings.ParameterWeights {
		f, ok := factors[param]
		if !ok {
			continue
		}
		num += weight * f
		den += weight
	}
	if den == 0 {
		if len(factors) == 0 {
			return nil, &model.InsufficientDataError{
				Tag:    valve.Tag,
				Reason: "latest calibration has no condition scores or test results",
			}
		}
		return nil, model.NewConfigurationErrorf(
			"no parameter weight matches the available data for valve %s", valve.Tag)
	}

	pof := num / den
	interval := floorInterval(float64(fixed) * (1 - pof))

	// Carry unweighted test factors alongside for audit.
	for name, f := range testComponents {
		if _, ok := factors[name]; !ok {
			factors[name] = f
		}
	}

	return &model.RBICalculationResult{
		TestFactor:                combined,
		PoF:                       &pof,
		ComponentFactors:          factors,
		RecommendedIntervalMonths: interval,
		NextDue:                   dueDate(latest.CalibratedAt, interval),
	}, nil
}

type severity int

const (
	sevLow severity = iota
	sevMedium
	sevHigh
)

func (s severity) category() string {
	switch s {
	case sevHigh:
		return model.RiskHigh
	case sevMedium:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func pofSeverity(pof float64) severity {
	switch {
	case pof < PoFMediumThreshold:
		return sevLow
	case pof < PoFHighThreshold:
		return sevMedium
	default:
		return sevHigh
	}
}

func cofSeverity(cof int) severity {
	switch {
	case cof <= CoFLowMax:
		return sevLow
	case cof <= CoFMediumMax:
		return sevMedium
	default:
		return sevHigh
	}
}

// resolveRiskMatrix implements level 4: the level-3 PoF combined with the
// service's consequence-of-failure score. PoF and CoF buckets combine by the
// worst of the two; the resulting category indexes the risk matrix and the
// first (shortest) bound is taken as the conservative interval.
func resolveRiskMatrix(valve *model.PressureSafetyValve, cfg *model.RBIConfiguration, latest *model.CalibrationRecord, category *model.ServiceRiskCategory) (*model.RBICalculationResult, error) {
	result, err := resolveConditionPoF(valve, cfg, latest)
	if err != nil {
		return nil, err
	}

	sev := pofSeverity(*result.PoF)
	if cs := cofSeverity(category.CoFScore); cs > sev {
		sev = cs
	}
	name := sev.category()

	bounds, ok := cfg.Settings.RiskMatrix[name]
	if !ok {
		return nil, model.NewConfigurationErrorf("risk_matrix has no %q bucket", name)
	}
	if len(bounds) == 0 {
		return nil, model.NewConfigurationErrorf("risk_matrix bucket %q is empty", name)
	}

	interval := floorInterval(float64(bounds[0]))
	cof := category.CoFScore
	result.CoF = &cof
	result.RiskCategory = name
	result.RecommendedIntervalMonths = interval
	result.NextDue = dueDate(latest.CalibratedAt, interval)
	return result, nil
}
