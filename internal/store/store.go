// Package store persists valves, calibration history, service risk categories
// and policy versions. The engine never talks to a database directly; a Store
// satisfies the engine's source interfaces and owns the single-active-policy
// activation transaction.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/meridian-integrity/rbi-cli/internal/config"
	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// Store defines the persistence interface for the scheduling program.
type Store interface {
	// Valves (reference data, owned by asset admin workflows)
	UpsertValve(ctx context.Context, v model.PressureSafetyValve) error
	Valve(ctx context.Context, tag string) (*model.PressureSafetyValve, error)
	ListValveTags(ctx context.Context) ([]string, error)

	// Calibration history (append-only)
	AppendCalibration(ctx context.Context, rec model.CalibrationRecord) (*model.CalibrationRecord, error)
	History(ctx context.Context, tag string) ([]model.CalibrationRecord, error)

	// Service risk categories
	UpsertCategory(ctx context.Context, c model.ServiceRiskCategory) error
	Category(ctx context.Context, service string) (*model.ServiceRiskCategory, error)

	// Policies (immutable versions; activation is transactional)
	CreatePolicy(ctx context.Context, p model.RBIConfiguration) (*model.RBIConfiguration, error)
	GetPolicy(ctx context.Context, id string) (*model.RBIConfiguration, error)
	ListPolicies(ctx context.Context) ([]model.RBIConfiguration, error)
	ActivePolicy(ctx context.Context) (*model.RBIConfiguration, error)
	ActivatePolicy(ctx context.Context, id string) error

	// Audit trail for committed scheduling decisions
	RecordSchedule(ctx context.Context, res model.RBICalculationResult) (string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
