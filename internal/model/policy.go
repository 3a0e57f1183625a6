package model

import (
	"strings"
	"time"
)

// RBILevel selects the scheduling methodology: fixed interval, test-result
// adjusted, condition-weighted PoF, or full risk matrix.
type RBILevel int

const (
	LevelFixed        RBILevel = 1
	LevelTestAdjusted RBILevel = 2
	LevelConditionPoF RBILevel = 3
	LevelRiskMatrix   RBILevel = 4
)

// Weighted-parameter keys accepted in ParameterWeights at level 3+.
const (
	ParamBody     = "body"
	ParamInternal = "internal"
	ParamSeat     = "seat"
	ParamPopTest  = "pop_test"
)

// Risk category names indexing the level-4 risk matrix.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Thresholds bound acceptable test results as fractions of set pressure.
type Thresholds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// RBISettings holds the level-specific policy parameters. Each level inherits
// the sub-objects of the levels below it; sub-objects above the declared level
// must be absent. Validate enforces the level/variant match.
type RBISettings struct {
	FixedIntervalMonths *int               `json:"fixed_interval,omitempty" yaml:"fixed_interval,omitempty"`
	PopTestThresholds   *Thresholds        `json:"pop_test_thresholds,omitempty" yaml:"pop_test_thresholds,omitempty"`
	LeakTestThresholds  *Thresholds        `json:"leak_test_thresholds,omitempty" yaml:"leak_test_thresholds,omitempty"`
	ParameterWeights    map[string]float64 `json:"parameter_weights,omitempty" yaml:"parameter_weights,omitempty"`
	RiskMatrix          map[string][]int   `json:"risk_matrix,omitempty" yaml:"risk_matrix,omitempty"`
}

// RBIConfiguration is a versioned, immutable policy snapshot. At most one
// configuration is active at a time; the policy store enforces that invariant
// transactionally, the engine only asserts the precondition.
type RBIConfiguration struct {
	ID        string      `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string      `json:"name" yaml:"name"`
	Version   int         `json:"version" yaml:"version"`
	Level     RBILevel    `json:"level" yaml:"level"`
	Active    bool        `json:"active" yaml:"active"`
	Settings  RBISettings `json:"settings" yaml:"settings"`
	CreatedAt time.Time   `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Validate rejects a configuration whose settings variant does not match its
// declared level, mirroring the per-level form sections of the admin UI.
func (c *RBIConfiguration) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if c.Level < LevelFixed || c.Level > LevelRiskMatrix {
		return NewConfigurationErrorf("level must be 1-4, got %d", c.Level)
	}

	s := c.Settings
	if s.FixedIntervalMonths != nil && *s.FixedIntervalMonths < 1 {
		return NewConfigurationErrorf("fixed_interval must be at least 1 month")
	}

	if c.Level >= LevelTestAdjusted {
		if s.PopTestThresholds == nil {
			return NewConfigurationErrorf("level %d requires pop_test_thresholds", c.Level)
		}
		if s.LeakTestThresholds == nil {
			return NewConfigurationErrorf("level %d requires leak_test_thresholds", c.Level)
		}
		if err := validateThresholds("pop_test_thresholds", *s.PopTestThresholds); err != nil {
			return err
		}
		if err := validateThresholds("leak_test_thresholds", *s.LeakTestThresholds); err != nil {
			return err
		}
	} else if s.PopTestThresholds != nil || s.LeakTestThresholds != nil {
		return NewConfigurationErrorf("test thresholds are only valid at level 2 and above")
	}

	if c.Level >= LevelConditionPoF {
		if len(s.ParameterWeights) == 0 {
			return NewConfigurationErrorf("level %d requires parameter_weights", c.Level)
		}
		sum := 0.0
		for name, w := range s.ParameterWeights {
			switch name {
			case ParamBody, ParamInternal, ParamSeat, ParamPopTest:
			default:
				return NewConfigurationErrorf("unknown parameter weight %q", name)
			}
			if w < 0 {
				return NewConfigurationErrorf("parameter weight %q must not be negative", name)
			}
			sum += w
		}
		if sum == 0 {
			return NewConfigurationErrorf("parameter weights sum to zero, nothing to average")
		}
	} else if len(s.ParameterWeights) != 0 {
		return NewConfigurationErrorf("parameter_weights are only valid at level 3 and above")
	}

	if c.Level == LevelRiskMatrix {
		if len(s.RiskMatrix) == 0 {
			return NewConfigurationErrorf("level 4 requires risk_matrix")
		}
		for category, bounds := range s.RiskMatrix {
			switch category {
			case RiskLow, RiskMedium, RiskHigh:
			default:
				return NewConfigurationErrorf("unknown risk category %q in risk_matrix", category)
			}
			if len(bounds) == 0 {
				return NewConfigurationErrorf("risk_matrix bucket %q is empty", category)
			}
			prev := 0
			for _, b := range bounds {
				if b < 1 {
					return NewConfigurationErrorf("risk_matrix bucket %q has non-positive bound %d", category, b)
				}
				if b < prev {
					return NewConfigurationErrorf("risk_matrix bucket %q bounds must be ascending", category)
				}
				prev = b
			}
		}
	} else if len(s.RiskMatrix) != 0 {
		return NewConfigurationErrorf("risk_matrix is only valid at level 4")
	}

	return nil
}

func validateThresholds(field string, t Thresholds) error {
	if t.Min < 0 {
		return NewConfigurationErrorf("%s.min must not be negative", field)
	}
	if t.Max <= t.Min {
		return NewConfigurationErrorf("%s.max must be greater than min", field)
	}
	return nil
}
