package rbi

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// ValveSource supplies valve reference data by tag.
type ValveSource interface {
	Valve(ctx context.Context, tag string) (*model.PressureSafetyValve, error)
}

// HistorySource supplies the calibration history for a tag. Order is not
// assumed; the engine sorts before use.
type HistorySource interface {
	History(ctx context.Context, tag string) ([]model.CalibrationRecord, error)
}

// CategorySource supplies the consequence-of-failure category for a service.
// A service with no registered category must yield a model.LookupError.
type CategorySource interface {
	Category(ctx context.Context, service string) (*model.ServiceRiskCategory, error)
}

// PolicySource supplies the currently active policy snapshot, or nil when no
// policy is active.
type PolicySource interface {
	ActivePolicy(ctx context.Context) (*model.RBIConfiguration, error)
}

// Engine orchestrates scoring and interval resolution for a single valve. It
// is stateless; the same inputs always produce the same result.
type Engine struct {
	valves     ValveSource
	history    HistorySource
	categories CategorySource
}

// NewEngine wires the engine to its data sources.
func NewEngine(valves ValveSource, history HistorySource, categories CategorySource) *Engine {
	return &Engine{valves: valves, history: history, categories: categories}
}

// Compute runs the scheduling computation for one valve at the requested
// level under the given policy. It either succeeds completely or fails with a
// typed error; a partially computed date is never returned.
func (e *Engine) Compute(ctx context.Context, tag string, level model.RBILevel, cfg *model.RBIConfiguration) (*model.RBICalculationResult, error) {
	if cfg == nil {
		return nil, model.NewConfigurationErrorf("no policy supplied")
	}
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrapf(err, "rbi: policy %q", cfg.Name)
	}
	if cfg.Level != level {
		return nil, model.NewConfigurationErrorf(
			"policy %q declares level %d but level %d was requested", cfg.Name, cfg.Level, level)
	}

	valve, err := e.valves.Valve(ctx, tag)
	if err != nil {
		return nil, eris.Wrapf(err, "rbi: load valve %s", tag)
	}
	if err := valve.Validate(); err != nil {
		return nil, eris.Wrapf(err, "rbi: valve %s", tag)
	}

	history, err := e.history.History(ctx, tag)
	if err != nil {
		return nil, eris.Wrapf(err, "rbi: load history for %s", tag)
	}
	latest := model.LatestRecord(history)

	if level >= model.LevelTestAdjusted && latest == nil {
		return nil, &model.InsufficientDataError{Tag: tag, Reason: "no calibration history"}
	}
	if latest != nil {
		if err := latest.Validate(); err != nil {
			return nil, eris.Wrapf(err, "rbi: calibration record %s", latest.ID)
		}
	}

	var result *model.RBICalculationResult
	switch level {
	case model.LevelFixed:
		result, err = resolveFixed(valve, cfg, latest)
	case model.LevelTestAdjusted:
		result, err = resolveTestAdjusted(valve, cfg, latest)
	case model.LevelConditionPoF:
		result, err = resolveConditionPoF(valve, cfg, latest)
	case model.LevelRiskMatrix:
		var category *model.ServiceRiskCategory
		category, err = e.categories.Category(ctx, valve.Service)
		if err != nil {
			return nil, eris.Wrapf(err, "rbi: risk category for %s", tag)
		}
		result, err = resolveRiskMatrix(valve, cfg, latest, category)
	default:
		return nil, model.NewConfigurationErrorf("level must be 1-4, got %d", level)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "rbi: compute %s at level %d", tag, level)
	}

	result.Tag = tag
	result.Level = level
	result.PolicyID = cfg.ID
	result.PolicyName = cfg.Name
	result.PolicyVersion = cfg.Version
	if latest != nil {
		result.BaselineRecordID = latest.ID
	}

	zap.L().Debug("rbi: computed schedule",
		zap.String("tag", tag),
		zap.Int("level", int(level)),
		zap.Float64("interval_months", result.RecommendedIntervalMonths),
		zap.Time("next_due", result.NextDue),
	)
	return result, nil
}
