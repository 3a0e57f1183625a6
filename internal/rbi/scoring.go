// Package rbi implements the risk-based inspection scheduling engine: pure
// scoring of calibration results, the four-level interval resolver, the
// Compute facade and the batch preview simulator. The engine holds no mutable
// state; every entry point takes its inputs as parameters and is safe for
// concurrent use.
package rbi

import (
	"math"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// TestFactorClampBandFraction is the distance beyond a threshold bound, as a
// fraction of the band width, at which the test factor saturates at 1. A
// measurement half a band width outside the acceptable range is treated as a
// maximal failure indication.
const TestFactorClampBandFraction = 0.5

// ScoreTestResult normalizes a bench measurement against the valve's set
// pressure. A ratio inside [min, max] is fully compliant (factor 0); outside
// the band the factor grows linearly with distance from the nearest bound and
// clamps to 1 at TestFactorClampBandFraction of the band width.
func ScoreTestResult(measured, setPressure float64, th model.Thresholds) (float64, error) {
	if setPressure <= 0 {
		return 0, &model.ValidationError{Field: "set_pressure", Reason: "must be positive"}
	}
	if measured < 0 {
		return 0, &model.ValidationError{Field: "measured", Reason: "must not be negative"}
	}
	if th.Max <= th.Min {
		return 0, model.NewConfigurationErrorf("thresholds: max %g must be greater than min %g", th.Max, th.Min)
	}

	ratio := measured / setPressure
	if ratio >= th.Min && ratio <= th.Max {
		return 0, nil
	}

	var dist float64
	if ratio < th.Min {
		dist = th.Min - ratio
	} else {
		dist = ratio - th.Max
	}
	clampSpan := TestFactorClampBandFraction * (th.Max - th.Min)
	return math.Min(1, dist/clampSpan), nil
}

// ScoreCondition maps a 1-5 condition score (5 = best) onto a failure factor
// in [0, 1]. Unknown scores must be excluded by the caller, never defaulted.
func ScoreCondition(score int) (float64, error) {
	if score < 1 || score > 5 {
		return 0, &model.ValidationError{Field: "condition_score", Reason: "must be between 1 and 5"}
	}
	return float64(5-score) / 4, nil
}

// testFactors scores the post-repair pop and leak results of a record against
// the policy thresholds. Each returned factor is keyed by test name; the
// combined factor is the worse of the two. Returns a nil combined factor when
// the record carries no post-repair measurements at all.
func testFactors(rec *model.CalibrationRecord, setPressure float64, s model.RBISettings) (map[string]float64, *float64, error) {
	factors := make(map[string]float64, 2)

	if rec.PostRepairPopTest != nil {
		f, err := ScoreTestResult(*rec.PostRepairPopTest, setPressure, *s.PopTestThresholds)
		if err != nil {
			return nil, nil, err
		}
		factors["pop_test"] = f
	}
	if rec.PostRepairLeakTest != nil {
		f, err := ScoreTestResult(*rec.PostRepairLeakTest, setPressure, *s.LeakTestThresholds)
		if err != nil {
			return nil, nil, err
		}
		factors["leak_test"] = f
	}
	if len(factors) == 0 {
		return nil, nil, nil
	}

	combined := 0.0
	for _, f := range factors {
		combined = math.Max(combined, f)
	}
	return factors, &combined, nil
}
