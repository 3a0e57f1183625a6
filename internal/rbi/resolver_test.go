package rbi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

func testValve() *model.PressureSafetyValve {
	return &model.PressureSafetyValve{
		Tag:            "PSV-1001",
		Service:        "steam",
		SetPressure:    150.5,
		CommissionedAt: ts(2020, 1, 1),
	}
}

func level2Config(fixed int) *model.RBIConfiguration {
	return &model.RBIConfiguration{
		Name:    "plant-default",
		Version: 1,
		Level:   model.LevelTestAdjusted,
		Settings: model.RBISettings{
			FixedIntervalMonths: &fixed,
			PopTestThresholds:   &model.Thresholds{Min: 0.95, Max: 1.05},
			LeakTestThresholds:  &model.Thresholds{Min: 0.90, Max: 1.10},
		},
	}
}

func level3Config(fixed int, weights map[string]float64) *model.RBIConfiguration {
	cfg := level2Config(fixed)
	cfg.Level = model.LevelConditionPoF
	cfg.Settings.ParameterWeights = weights
	return cfg
}

func level4Config(fixed int, weights map[string]float64, matrix map[string][]int) *model.RBIConfiguration {
	cfg := level3Config(fixed, weights)
	cfg.Level = model.LevelRiskMatrix
	cfg.Settings.RiskMatrix = matrix
	return cfg
}

func TestDueDate_WholeMonths(t *testing.T) {
	due := dueDate(ts(2024, 3, 15), 12)
	assert.Equal(t, ts(2025, 3, 15), due, "integral intervals stay calendar-exact")
}

func TestDueDate_FractionalMonths(t *testing.T) {
	due := dueDate(ts(2024, 1, 1), 9.6)
	want := ts(2024, 10, 1).Add(time.Duration(0.6 * avgDaysPerMonth * 24 * float64(time.Hour)))
	assert.Equal(t, want, due)
}

func TestResolveFixed_PolicyInterval(t *testing.T) {
	fixed := 12
	cfg := &model.RBIConfiguration{
		Name:     "fixed-12",
		Level:    model.LevelFixed,
		Settings: model.RBISettings{FixedIntervalMonths: &fixed},
	}
	latest := &model.CalibrationRecord{Tag: "PSV-1001", CalibratedAt: ts(2024, 3, 15)}

	result, err := resolveFixed(testValve(), cfg, latest)
	require.NoError(t, err)
	assert.Equal(t, 12.0, result.RecommendedIntervalMonths)
	assert.Equal(t, ts(2025, 3, 15), result.NextDue)
}

func TestResolveFixed_ValveFrequencyFallback(t *testing.T) {
	valve := testValve()
	freq := 6
	valve.FixedFrequencyMonths = &freq
	cfg := &model.RBIConfiguration{Name: "fallback", Level: model.LevelFixed}

	result, err := resolveFixed(valve, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, result.RecommendedIntervalMonths)
	assert.Equal(t, valve.CommissionedAt.AddDate(0, 6, 0), result.NextDue,
		"never-calibrated valve anchors on its commissioning date")
}

func TestResolveFixed_NoIntervalAnywhere(t *testing.T) {
	cfg := &model.RBIConfiguration{Name: "empty", Level: model.LevelFixed}

	var cErr *model.ConfigurationError
	_, err := resolveFixed(testValve(), cfg, nil)
	require.ErrorAs(t, err, &cErr)
}

func TestResolveTestAdjusted_CompliantKeepsFullInterval(t *testing.T) {
	latest := &model.CalibrationRecord{
		Tag:               "PSV-1001",
		CalibratedAt:      ts(2024, 3, 15),
		PostRepairPopTest: fp(150.5), // ratio exactly 1.0
	}

	result, err := resolveTestAdjusted(testValve(), level2Config(12), latest)
	require.NoError(t, err)
	require.NotNil(t, result.TestFactor)
	assert.Zero(t, *result.TestFactor)
	assert.Equal(t, 12.0, result.RecommendedIntervalMonths)
	assert.Equal(t, ts(2025, 3, 15), result.NextDue)
}

func TestResolveTestAdjusted_OutOfBandShortensInterval(t *testing.T) {
	valve := testValve()
	valve.SetPressure = 150

	latest := &model.CalibrationRecord{
		Tag:               "PSV-1001",
		CalibratedAt:      ts(2024, 3, 15),
		PostRepairPopTest: fp(139.5), // ratio 0.93, factor 0.4
	}

	result, err := resolveTestAdjusted(valve, level2Config(12), latest)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, *result.TestFactor, 1e-9)
	assert.InDelta(t, 9.6, result.RecommendedIntervalMonths, 1e-9)
}

func TestResolveTestAdjusted_Monotonic(t *testing.T) {
	valve := testValve()
	valve.SetPressure = 150
	cfg := level2Config(12)

	prev := 13.0
	for _, pop := range []float64{150, 139.5, 135} { // factors 0, 0.4, 1.0
		latest := &model.CalibrationRecord{
			Tag:               "PSV-1001",
			CalibratedAt:      ts(2024, 3, 15),
			PostRepairPopTest: fp(pop),
		}
		result, err := resolveTestAdjusted(valve, cfg, latest)
		require.NoError(t, err)
		assert.Less(t, result.RecommendedIntervalMonths, prev,
			"worse test results never lengthen the interval")
		prev = result.RecommendedIntervalMonths
	}
}

func TestResolveTestAdjusted_FlooredAtOneMonth(t *testing.T) {
	valve := testValve()
	valve.SetPressure = 150

	latest := &model.CalibrationRecord{
		Tag:               "PSV-1001",
		CalibratedAt:      ts(2024, 3, 15),
		PostRepairPopTest: fp(135), // factor 1.0
	}
	result, err := resolveTestAdjusted(valve, level2Config(1), latest)
	require.NoError(t, err)
	assert.Equal(t, MinIntervalMonths, result.RecommendedIntervalMonths)
}

func TestResolveTestAdjusted_NoPostRepairResults(t *testing.T) {
	latest := &model.CalibrationRecord{
		Tag:          "PSV-1001",
		CalibratedAt: ts(2024, 3, 15),
	}

	var insuffErr *model.InsufficientDataError
	_, err := resolveTestAdjusted(testValve(), level2Config(12), latest)
	require.ErrorAs(t, err, &insuffErr)
}

func TestResolveConditionPoF_WeightedAverage(t *testing.T) {
	weights := map[string]float64{
		model.ParamBody:     1,
		model.ParamInternal: 1,
		model.ParamSeat:     1,
		model.ParamPopTest:  1,
	}
	latest := &model.CalibrationRecord{
		Tag:                    "PSV-1001",
		CalibratedAt:           ts(2024, 3, 15),
		PostRepairPopTest:      fp(150.5), // factor 0
		BodyConditionScore:     ip(5),     // factor 0
		InternalConditionScore: ip(3),     // factor 0.5
		SeatConditionScore:     ip(1),     // factor 1
	}

	result, err := resolveConditionPoF(testValve(), level3Config(12, weights), latest)
	require.NoError(t, err)
	require.NotNil(t, result.PoF)
	assert.InDelta(t, 0.375, *result.PoF, 1e-9) // (0+0.5+1+0)/4
	assert.InDelta(t, 7.5, result.RecommendedIntervalMonths, 1e-9)
}

func TestResolveConditionPoF_MissingScoreExcluded(t *testing.T) {
	weights := map[string]float64{
		model.ParamBody:     1,
		model.ParamInternal: 1,
		model.ParamPopTest:  1,
	}
	base := model.CalibrationRecord{
		Tag:                    "PSV-1001",
		CalibratedAt:           ts(2024, 3, 15),
		PostRepairPopTest:      fp(150.5),
		InternalConditionScore: ip(3),
	}
	cfg := level3Config(12, weights)

	// Without the body score: PoF = (0.5 + 0) / 2.
	withoutBody := base
	result, err := resolveConditionPoF(testValve(), cfg, &withoutBody)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, *result.PoF, 1e-9)

	// With the body score the denominator grows: PoF = (0 + 0.5 + 0) / 3.
	withBody := base
	withBody.BodyConditionScore = ip(5)
	result, err = resolveConditionPoF(testValve(), cfg, &withBody)
	require.NoError(t, err)
	assert.InDelta(t, 0.5/3, *result.PoF, 1e-9)
}

func TestResolveConditionPoF_NoDataAtAll(t *testing.T) {
	weights := map[string]float64{model.ParamBody: 1}
	latest := &model.CalibrationRecord{
		Tag:          "PSV-1001",
		CalibratedAt: ts(2024, 3, 15),
	}

	var insuffErr *model.InsufficientDataError
	_, err := resolveConditionPoF(testValve(), level3Config(12, weights), latest)
	require.ErrorAs(t, err, &insuffErr)
}

func TestResolveConditionPoF_NoWeightMatchesData(t *testing.T) {
	weights := map[string]float64{model.ParamSeat: 1}
	latest := &model.CalibrationRecord{
		Tag:               "PSV-1001",
		CalibratedAt:      ts(2024, 3, 15),
		PostRepairPopTest: fp(150.5),
	}

	var cErr *model.ConfigurationError
	_, err := resolveConditionPoF(testValve(), level3Config(12, weights), latest)
	require.ErrorAs(t, err, &cErr)
}

func TestResolveRiskMatrix_WorstOfPoFAndCoF(t *testing.T) {
	weights := map[string]float64{model.ParamBody: 1, model.ParamPopTest: 1}
	matrix := map[string][]int{
		model.RiskLow:    {24, 36},
		model.RiskMedium: {12, 24},
		model.RiskHigh:   {6, 12},
	}
	latest := &model.CalibrationRecord{
		Tag:                "PSV-1001",
		CalibratedAt:       ts(2024, 3, 15),
		PostRepairPopTest:  fp(150.5), // factor 0
		BodyConditionScore: ip(5),     // factor 0 -> PoF 0 -> Low
	}

	// CoF 5 is High; worst-of-two promotes the Low PoF to High.
	category := &model.ServiceRiskCategory{Service: "steam", CoFScore: 5}
	result, err := resolveRiskMatrix(testValve(), level4Config(12, weights, matrix), latest, category)
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, result.RiskCategory)
	assert.Equal(t, 6.0, result.RecommendedIntervalMonths, "takes the shortest bound")
	require.NotNil(t, result.CoF)
	assert.Equal(t, 5, *result.CoF)
}

func TestResolveRiskMatrix_BucketThresholds(t *testing.T) {
	cases := []struct {
		pof  float64
		want severity
	}{
		{0, sevLow},
		{0.32, sevLow},
		{0.33, sevMedium},
		{0.65, sevMedium},
		{0.66, sevHigh},
		{1, sevHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pofSeverity(tc.pof), "pof %g", tc.pof)
	}

	assert.Equal(t, sevLow, cofSeverity(2))
	assert.Equal(t, sevMedium, cofSeverity(3))
	assert.Equal(t, sevMedium, cofSeverity(4))
	assert.Equal(t, sevHigh, cofSeverity(5))
}

func TestResolveRiskMatrix_MissingBucket(t *testing.T) {
	weights := map[string]float64{model.ParamPopTest: 1}
	matrix := map[string][]int{model.RiskLow: {24}}
	latest := &model.CalibrationRecord{
		Tag:               "PSV-1001",
		CalibratedAt:      ts(2024, 3, 15),
		PostRepairPopTest: fp(150.5),
	}
	category := &model.ServiceRiskCategory{Service: "steam", CoFScore: 5}

	var cErr *model.ConfigurationError
	_, err := resolveRiskMatrix(testValve(), level4Config(12, weights, matrix), latest, category)
	require.ErrorAs(t, err, &cErr)
}
