// Package registry loads reference-data fixtures (valves, risk categories,
// policies, calibration history) from YAML files for import into the store.
package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// LoadValvesFromFile reads a YAML list of valves from the given path.
func LoadValvesFromFile(path string) ([]model.PressureSafetyValve, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read valves fixture")
	}

	var valves []model.PressureSafetyValve
	if err := yaml.Unmarshal(data, &valves); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal valves fixture")
	}
	for i := range valves {
		if err := valves[i].Validate(); err != nil {
			return nil, eris.Wrapf(err, "registry: valves fixture entry %d", i)
		}
	}
	return valves, nil
}

// LoadCategoriesFromFile reads a YAML list of service risk categories.
func LoadCategoriesFromFile(path string) ([]model.ServiceRiskCategory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read categories fixture")
	}

	var categories []model.ServiceRiskCategory
	if err := yaml.Unmarshal(data, &categories); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal categories fixture")
	}
	for i := range categories {
		if err := categories[i].Validate(); err != nil {
			return nil, eris.Wrapf(err, "registry: categories fixture entry %d", i)
		}
	}
	return categories, nil
}

// LoadPoliciesFromFile reads a YAML list of policy configurations.
func LoadPoliciesFromFile(path string) ([]model.RBIConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read policies fixture")
	}

	var policies []model.RBIConfiguration
	if err := yaml.Unmarshal(data, &policies); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal policies fixture")
	}
	for i := range policies {
		if err := policies[i].Validate(); err != nil {
			return nil, eris.Wrapf(err, "registry: policies fixture entry %d", i)
		}
	}
	return policies, nil
}

// LoadPolicyFromFile reads a single policy document, e.g. a not-yet-persisted
// candidate for preview.
func LoadPolicyFromFile(path string) (*model.RBIConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read policy file")
	}

	var policy model.RBIConfiguration
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal policy file")
	}
	if err := policy.Validate(); err != nil {
		return nil, eris.Wrap(err, "registry: policy file")
	}
	return &policy, nil
}

// LoadHistoryFromFile reads a YAML list of calibration records.
func LoadHistoryFromFile(path string) ([]model.CalibrationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read history fixture")
	}

	var records []model.CalibrationRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal history fixture")
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, eris.Wrapf(err, "registry: history fixture entry %d", i)
		}
	}
	return records, nil
}
