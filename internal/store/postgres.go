package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it,
// which keeps the Postgres store unit-testable without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS valves (
	tag                    TEXT PRIMARY KEY,
	description            TEXT NOT NULL DEFAULT '',
	service                TEXT NOT NULL,
	set_pressure           DOUBLE PRECISION NOT NULL,
	fixed_frequency_months INTEGER,
	commissioned_at        TIMESTAMPTZ NOT NULL,
	location               TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS calibration_records (
	id                       TEXT PRIMARY KEY,
	tag                      TEXT NOT NULL REFERENCES valves(tag),
	calibrated_at            TIMESTAMPTZ NOT NULL,
	test_medium              TEXT NOT NULL DEFAULT '',
	pre_repair_pop_test      DOUBLE PRECISION,
	post_repair_pop_test     DOUBLE PRECISION,
	pre_repair_leak_test     DOUBLE PRECISION,
	post_repair_leak_test    DOUBLE PRECISION,
	body_condition_score     INTEGER,
	internal_condition_score INTEGER,
	seat_condition_score     INTEGER,
	notes                    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS service_risk_categories (
	service     TEXT PRIMARY KEY,
	cof_score   INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rbi_configurations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	level      INTEGER NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT FALSE,
	settings   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule_audit (
	id          TEXT PRIMARY KEY,
	tag         TEXT NOT NULL,
	policy_id   TEXT NOT NULL DEFAULT '',
	level       INTEGER NOT NULL,
	result      JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calibration_records_tag ON calibration_records(tag, calibrated_at);
CREATE INDEX IF NOT EXISTS idx_rbi_configurations_active ON rbi_configurations(active);
CREATE INDEX IF NOT EXISTS idx_schedule_audit_tag ON schedule_audit(tag);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertValve(ctx context.Context, v model.PressureSafetyValve) error {
	if err := v.Validate(); err != nil {
		return eris.Wrap(err, "postgres: upsert valve")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO valves (tag, description, service, set_pressure, fixed_frequency_months, commissioned_at, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tag) DO UPDATE SET
			description = EXCLUDED.description,
			service = EXCLUDED.service,
			set_pressure = EXCLUDED.set_pressure,
			fixed_frequency_months = EXCLUDED.fixed_frequency_months,
			commissioned_at = EXCLUDED.commissioned_at,
			location = EXCLUDED.location`,
		v.Tag, v.Description, v.Service, v.SetPressure, v.FixedFrequencyMonths,
		v.CommissionedAt.UTC(), v.Location,
	)
	return eris.Wrapf(err, "postgres: upsert valve %s", v.Tag)
}

func (s *PostgresStore) Valve(ctx context.Context, tag string) (*model.PressureSafetyValve, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tag, description, service, set_pressure, fixed_frequency_months, commissioned_at, location
		FROM valves WHERE tag = $1`, tag)

	var v model.PressureSafetyValve
	err := row.Scan(&v.Tag, &v.Description, &v.Service, &v.SetPressure,
		&v.FixedFrequencyMonths, &v.CommissionedAt, &v.Location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.LookupError{Kind: "valve", Key: tag}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get valve %s", tag)
	}
	return &v, nil
}

func (s *PostgresStore) ListValveTags(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tag FROM valves ORDER BY tag`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list valve tags")
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, eris.Wrap(err, "postgres: scan valve tag")
		}
		tags = append(tags, tag)
	}
	return tags, eris.Wrap(rows.Err(), "postgres: list valve tags")
}

func (s *PostgresStore) AppendCalibration(ctx context.Context, rec model.CalibrationRecord) (*model.CalibrationRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, eris.Wrap(err, "postgres: append calibration")
	}
	rec.ID = uuid.New().String()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO calibration_records (
			id, tag, calibrated_at, test_medium,
			pre_repair_pop_test, post_repair_pop_test, pre_repair_leak_test, post_repair_leak_test,
			body_condition_score, internal_condition_score, seat_condition_score, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Tag, rec.CalibratedAt.UTC(), rec.TestMedium,
		rec.PreRepairPopTest, rec.PostRepairPopTest, rec.PreRepairLeakTest, rec.PostRepairLeakTest,
		rec.BodyConditionScore, rec.InternalConditionScore, rec.SeatConditionScore, rec.Notes,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: append calibration for %s", rec.Tag)
	}
	return &rec, nil
}

func (s *PostgresStore) History(ctx context.Context, tag string) ([]model.CalibrationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tag, calibrated_at, test_medium,
			pre_repair_pop_test, post_repair_pop_test, pre_repair_leak_test, post_repair_leak_test,
			body_condition_score, internal_condition_score, seat_condition_score, notes
		FROM calibration_records WHERE tag = $1 ORDER BY calibrated_at, id`, tag)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history for %s", tag)
	}
	defer rows.Close()

	var records []model.CalibrationRecord
	for rows.Next() {
		var rec model.CalibrationRecord
		if err := rows.Scan(&rec.ID, &rec.Tag, &rec.CalibratedAt, &rec.TestMedium,
			&rec.PreRepairPopTest, &rec.PostRepairPopTest, &rec.PreRepairLeakTest, &rec.PostRepairLeakTest,
			&rec.BodyConditionScore, &rec.InternalConditionScore, &rec.SeatConditionScore, &rec.Notes); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan calibration for %s", tag)
		}
		records = append(records, rec)
	}
	return records, eris.Wrapf(rows.Err(), "postgres: history for %s", tag)
}

func (s *PostgresStore) UpsertCategory(ctx context.Context, c model.ServiceRiskCategory) error {
	if err := c.Validate(); err != nil {
		return eris.Wrap(err, "postgres: upsert category")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO service_risk_categories (service, cof_score, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (service) DO UPDATE SET
			cof_score = EXCLUDED.cof_score,
			description = EXCLUDED.description`,
		model.NormalizeService(c.Service), c.CoFScore, c.Description,
	)
	return eris.Wrapf(err, "postgres: upsert category %s", c.Service)
}

func (s *PostgresStore) Category(ctx context.Context, service string) (*model.ServiceRiskCategory, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT service, cof_score, description
		FROM service_risk_categories WHERE service = $1`, model.NormalizeService(service))

	var c model.ServiceRiskCategory
	err := row.Scan(&c.Service, &c.CoFScore, &c.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.LookupError{Kind: "service risk category", Key: service}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get category %s", service)
	}
	return &c, nil
}

func (s *PostgresStore) CreatePolicy(ctx context.Context, p model.RBIConfiguration) (*model.RBIConfiguration, error) {
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(err, "postgres: create policy")
	}
	p.ID = uuid.New().String()
	p.Active = false
	p.CreatedAt = time.Now().UTC()

	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal settings")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rbi_configurations (id, name, version, level, active, settings, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)`,
		p.ID, p.Name, p.Version, int(p.Level), settings, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create policy %q", p.Name)
	}
	return &p, nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (*model.RBIConfiguration, error) {
	p, err := scanPGPolicy(s.pool.QueryRow(ctx, `
		SELECT id, name, version, level, active, settings, created_at
		FROM rbi_configurations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.LookupError{Kind: "policy", Key: id}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get policy %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context) ([]model.RBIConfiguration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, version, level, active, settings, created_at
		FROM rbi_configurations ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list policies")
	}
	defer rows.Close()

	var policies []model.RBIConfiguration
	for rows.Next() {
		p, err := scanPGPolicy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan policy")
		}
		policies = append(policies, *p)
	}
	return policies, eris.Wrap(rows.Err(), "postgres: list policies")
}

func (s *PostgresStore) ActivePolicy(ctx context.Context) (*model.RBIConfiguration, error) {
	p, err := scanPGPolicy(s.pool.QueryRow(ctx, `
		SELECT id, name, version, level, active, settings, created_at
		FROM rbi_configurations WHERE active LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active policy")
	}
	return p, nil
}

// ActivatePolicy flips the single active flag inside one transaction so the
// "at most one active configuration" invariant holds at every point in time.
func (s *PostgresStore) ActivatePolicy(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin activation")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE rbi_configurations SET active = FALSE WHERE active`); err != nil {
		return eris.Wrap(err, "postgres: deactivate policies")
	}
	tag, err := tx.Exec(ctx, `UPDATE rbi_configurations SET active = TRUE WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate policy %s", id)
	}
	if tag.RowsAffected() == 0 {
		return &model.LookupError{Kind: "policy", Key: id}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit activation")
}

func (s *PostgresStore) RecordSchedule(ctx context.Context, res model.RBICalculationResult) (string, error) {
	id := uuid.New().String()
	payload, err := json.Marshal(res)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal result")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO schedule_audit (id, tag, policy_id, level, result, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, res.Tag, res.PolicyID, int(res.Level), payload, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: record schedule for %s", res.Tag)
	}
	return id, nil
}

func scanPGPolicy(row pgx.Row) (*model.RBIConfiguration, error) {
	var p model.RBIConfiguration
	var level int
	var settings []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Version, &level, &p.Active, &settings, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Level = model.RBILevel(level)
	if err := json.Unmarshal(settings, &p.Settings); err != nil {
		return nil, eris.Wrapf(err, "unmarshal settings for policy %s", p.ID)
	}
	return &p, nil
}
