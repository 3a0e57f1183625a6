package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "rbi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedValve(t *testing.T, st *SQLiteStore) model.PressureSafetyValve {
	t.Helper()
	freq := 12
	v := model.PressureSafetyValve{
		Tag:                  "PSV-1001",
		Description:          "boiler relief",
		Service:              "steam",
		SetPressure:          150.5,
		FixedFrequencyMonths: &freq,
		CommissionedAt:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Location:             "unit 3",
	}
	require.NoError(t, st.UpsertValve(context.Background(), v))
	return v
}

func TestSQLiteValve_RoundTrip(t *testing.T) {
	st := newTestSQLite(t)
	want := seedValve(t, st)

	got, err := st.Valve(context.Background(), "PSV-1001")
	require.NoError(t, err)
	assert.Equal(t, &want, got)
}

func TestSQLiteValve_UpsertOverwrites(t *testing.T) {
	st := newTestSQLite(t)
	v := seedValve(t, st)

	v.SetPressure = 200
	v.FixedFrequencyMonths = nil
	require.NoError(t, st.UpsertValve(context.Background(), v))

	got, err := st.Valve(context.Background(), "PSV-1001")
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.SetPressure)
	assert.Nil(t, got.FixedFrequencyMonths)
}

func TestSQLiteValve_NotFound(t *testing.T) {
	st := newTestSQLite(t)

	var lErr *model.LookupError
	_, err := st.Valve(context.Background(), "PSV-9999")
	require.ErrorAs(t, err, &lErr)
	assert.Equal(t, "valve", lErr.Kind)
}

func TestSQLiteListValveTags(t *testing.T) {
	st := newTestSQLite(t)
	seedValve(t, st)
	v2 := model.PressureSafetyValve{
		Tag:            "PSV-0500",
		Service:        "air",
		SetPressure:    80,
		CommissionedAt: time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.UpsertValve(context.Background(), v2))

	tags, err := st.ListValveTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PSV-0500", "PSV-1001"}, tags)
}

func TestSQLiteCalibration_AppendAndHistory(t *testing.T) {
	st := newTestSQLite(t)
	seedValve(t, st)
	ctx := context.Background()

	pop := 148.2
	score := 4
	created, err := st.AppendCalibration(ctx, model.CalibrationRecord{
		Tag:                "PSV-1001",
		CalibratedAt:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		TestMedium:         "steam",
		PostRepairPopTest:  &pop,
		BodyConditionScore: &score,
		Notes:              "routine",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = st.AppendCalibration(ctx, model.CalibrationRecord{
		Tag:          "PSV-1001",
		CalibratedAt: time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	history, err := st.History(ctx, "PSV-1001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC), history[0].CalibratedAt)

	latest := history[1]
	assert.Equal(t, created.ID, latest.ID)
	require.NotNil(t, latest.PostRepairPopTest)
	assert.Equal(t, pop, *latest.PostRepairPopTest)
	require.NotNil(t, latest.BodyConditionScore)
	assert.Equal(t, score, *latest.BodyConditionScore)
	assert.Nil(t, latest.SeatConditionScore)
}

func TestSQLiteCalibration_RejectsInvalid(t *testing.T) {
	st := newTestSQLite(t)
	seedValve(t, st)

	bad := -3
	var vErr *model.ValidationError
	_, err := st.AppendCalibration(context.Background(), model.CalibrationRecord{
		Tag:                "PSV-1001",
		CalibratedAt:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		SeatConditionScore: &bad,
	})
	require.ErrorAs(t, err, &vErr)
}

func TestSQLiteCategory_NormalizedLookup(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertCategory(ctx, model.ServiceRiskCategory{
		Service:  "Natural Gas",
		CoFScore: 4,
	}))

	got, err := st.Category(ctx, "  natural gas ")
	require.NoError(t, err)
	assert.Equal(t, 4, got.CoFScore)

	var lErr *model.LookupError
	_, err = st.Category(ctx, "acid")
	require.ErrorAs(t, err, &lErr)
}

func testPolicy(name string, version int) model.RBIConfiguration {
	fixed := 12
	return model.RBIConfiguration{
		Name:    name,
		Version: version,
		Level:   model.LevelTestAdjusted,
		Settings: model.RBISettings{
			FixedIntervalMonths: &fixed,
			PopTestThresholds:   &model.Thresholds{Min: 0.95, Max: 1.05},
			LeakTestThresholds:  &model.Thresholds{Min: 0.90, Max: 1.10},
		},
	}
}

func TestSQLitePolicy_CreateAndGet(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	created, err := st.CreatePolicy(ctx, testPolicy("plant-default", 1))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Active, "new policies are never born active")

	got, err := st.GetPolicy(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.Level, got.Level)
	require.NotNil(t, got.Settings.FixedIntervalMonths)
	assert.Equal(t, 12, *got.Settings.FixedIntervalMonths)
	assert.Equal(t, &model.Thresholds{Min: 0.95, Max: 1.05}, got.Settings.PopTestThresholds)
}

func TestSQLitePolicy_SingleActiveInvariant(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	first, err := st.CreatePolicy(ctx, testPolicy("plant-default", 1))
	require.NoError(t, err)
	second, err := st.CreatePolicy(ctx, testPolicy("plant-default", 2))
	require.NoError(t, err)

	// Nothing active yet.
	active, err := st.ActivePolicy(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, st.ActivatePolicy(ctx, first.ID))
	require.NoError(t, st.ActivatePolicy(ctx, second.ID))

	active, err = st.ActivePolicy(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	policies, err := st.ListPolicies(ctx)
	require.NoError(t, err)
	count := 0
	for _, p := range policies {
		if p.Active {
			count++
		}
	}
	assert.Equal(t, 1, count, "at most one active configuration at a time")
}

func TestSQLitePolicy_ActivateUnknown(t *testing.T) {
	st := newTestSQLite(t)

	var lErr *model.LookupError
	err := st.ActivatePolicy(context.Background(), "no-such-id")
	require.ErrorAs(t, err, &lErr)
}

func TestSQLiteRecordSchedule(t *testing.T) {
	st := newTestSQLite(t)
	tf := 0.4

	id, err := st.RecordSchedule(context.Background(), model.RBICalculationResult{
		Tag:                       "PSV-1001",
		Level:                     model.LevelTestAdjusted,
		PolicyID:                  "policy-1",
		TestFactor:                &tf,
		RecommendedIntervalMonths: 9.6,
		NextDue:                   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
