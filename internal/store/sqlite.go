package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-integrity/rbi-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS valves (
	tag                    TEXT PRIMARY KEY,
	description            TEXT NOT NULL DEFAULT '',
	service                TEXT NOT NULL,
	set_pressure           REAL NOT NULL,
	fixed_frequency_months INTEGER,
	commissioned_at        TEXT NOT NULL,
	location               TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS calibration_records (
	id                       TEXT PRIMARY KEY,
	tag                      TEXT NOT NULL REFERENCES valves(tag),
	calibrated_at            TEXT NOT NULL,
	test_medium              TEXT NOT NULL DEFAULT '',
	pre_repair_pop_test      REAL,
	post_repair_pop_test     REAL,
	pre_repair_leak_test     REAL,
	post_repair_leak_test    REAL,
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
	active     INTEGER NOT NULL DEFAULT 0,
	settings   TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule_audit (
	id          TEXT PRIMARY KEY,
	tag         TEXT NOT NULL,
	policy_id   TEXT NOT NULL DEFAULT '',
	level       INTEGER NOT NULL,
	result      TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calibration_records_tag ON calibration_records(tag, calibrated_at);
CREATE INDEX IF NOT EXISTS idx_rbi_configurations_active ON rbi_configurations(active);
CREATE INDEX IF NOT EXISTS idx_schedule_audit_tag ON schedule_audit(tag);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertValve(ctx context.Context, v model.PressureSafetyValve) error {
	if err := v.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: upsert valve")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO valves (tag, description, service, set_pressure, fixed_frequency_months, commissioned_at, location)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			description = excluded.description,
			service = excluded.service,
			set_pressure = excluded.set_pressure,
			fixed_frequency_months = excluded.fixed_frequency_months,
			commissioned_at = excluded.commissioned_at,
			location = excluded.location`,
		v.Tag, v.Description, v.Service, v.SetPressure, nullableInt(v.FixedFrequencyMonths),
		v.CommissionedAt.UTC().Format(time.RFC3339), v.Location,
	)
	return eris.Wrapf(err, "sqlite: upsert valve %s", v.Tag)
}

func (s *SQLiteStore) Valve(ctx context.Context, tag string) (*model.PressureSafetyValve, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tag, description, service, set_pressure, fixed_frequency_months, commissioned_at, location
		FROM valves WHERE tag = ?`, tag)

	var v model.PressureSafetyValve
	var freq sql.NullInt64
	var commissioned string
	err := row.Scan(&v.Tag, &v.Description, &v.Service, &v.SetPressure, &freq, &commissioned, &v.Location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.LookupError{Kind: "valve", Key: tag}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get valve %s", tag)
	}
	if freq.Valid {
		f := int(freq.Int64)
		v.FixedFrequencyMonths = &f
	}
	if v.CommissionedAt, err = time.Parse(time.RFC3339, commissioned); err != nil {
		return nil, eris.Wrapf(err, "sqlite: valve %s commissioned_at", tag)
	}
	return &v, nil
}

func (s *SQLiteStore) ListValveTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM valves ORDER BY tag`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list valve tags")
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan valve tag")
		}
		tags = append(tags, tag)
	}
	return tags, eris.Wrap(rows.Err(), "sqlite: list valve tags")
}

func (s *SQLiteStore) AppendCalibration(ctx context.Context, rec model.CalibrationRecord) (*model.CalibrationRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, eris.Wrap(err, "sqlite: append calibration")
	}
	rec.ID = uuid.New().String()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calibration_records (
			id, tag, calibrated_at, test_medium,
			pre_repair_pop_test, post_repair_pop_test, pre_repair_leak_test, post_repair_leak_test,
			body_condition_score, internal_condition_score, seat_condition_score, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tag, rec.CalibratedAt.UTC().Format(time.RFC3339), rec.TestMedium,
		nullableFloat(rec.PreRepairPopTest), nullableFloat(rec.PostRepairPopTest),
		nullableFloat(rec.PreRepairLeakTest), nullableFloat(rec.PostRepairLeakTest),
		nullableInt(rec.BodyConditionScore), nullableInt(rec.InternalConditionScore),
		nullableInt(rec.SeatConditionScore), rec.Notes,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: append calibration for %s", rec.Tag)
	}
	return &rec, nil
}

func (s *SQLiteStore) History(ctx context.Context, tag string) ([]model.CalibrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag, calibrated_at, test_medium,
			pre_repair_pop_test, post_repair_pop_test, pre_repair_leak_test, post_repair_leak_test,
			body_condition_score, internal_condition_score, seat_condition_score, notes
		FROM calibration_records WHERE tag = ? ORDER BY calibrated_at, id`, tag)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history for %s", tag)
	}
	defer rows.Close()

	var records []model.CalibrationRecord
	for rows.Next() {
		var rec model.CalibrationRecord
		var calibrated string
		var prePop, postPop, preLeak, postLeak sql.NullFloat64
		var body, internal, seat sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Tag, &calibrated, &rec.TestMedium,
			&prePop, &postPop, &preLeak, &postLeak, &body, &internal, &seat, &rec.Notes); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan calibration for %s", tag)
		}
		if rec.CalibratedAt, err = time.Parse(time.RFC3339, calibrated); err != nil {
			return nil, eris.Wrapf(err, "sqlite: calibration %s calibrated_at", rec.ID)
		}
		rec.PreRepairPopTest = floatPtr(prePop)
		rec.PostRepairPopTest = floatPtr(postPop)
		rec.PreRepairLeakTest = floatPtr(preLeak)
		rec.PostRepairLeakTest = floatPtr(postLeak)
		rec.BodyConditionScore = intPtr(body)
		rec.InternalConditionScore = intPtr(internal)
		rec.SeatConditionScore = intPtr(seat)
		records = append(records, rec)
	}
	return records, eris.Wrapf(rows.Err(), "sqlite: history for %s", tag)
}

func (s *SQLiteStore) UpsertCategory(ctx context.Context, c model.ServiceRiskCategory) error {
	if err := c.Validate(); err != nil {
		return eris.Wrap(err, "sqlite: upsert category")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_risk_categories (service, cof_score, description)
		VALUES (?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			cof_score = excluded.cof_score,
			description = excluded.description`,
		model.NormalizeService(c.Service), c.CoFScore, c.Description,
	)
	return eris.Wrapf(err, "sqlite: upsert category %s", c.Service)
}

func (s *SQLiteStore) Category(ctx context.Context, service string) (*model.ServiceRiskCategory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT service, cof_score, description
		FROM service_risk_categories WHERE service = ?`, model.NormalizeService(service))

	var c model.ServiceRiskCategory
	err := row.Scan(&c.Service, &c.CoFScore, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.LookupError{Kind: "service risk category", Key: service}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get category %s", service)
	}
	return &c, nil
}

func (s *SQLiteStore) CreatePolicy(ctx context.Context, p model.RBIConfiguration) (*model.RBIConfiguration, error) {
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(err, "sqlite: create policy")
	}
	p.ID = uuid.New().String()
	p.Active = false
	p.CreatedAt = time.Now().UTC()

	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal settings")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rbi_configurations (id, name, version, level, active, settings, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		p.ID, p.Name, p.Version, int(p.Level), string(settings), p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create policy %q", p.Name)
	}
	return &p, nil
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, id string) (*model.RBIConfiguration, error) {
	return s.scanPolicy(s.db.QueryRowContext(ctx, `
		SELECT id, name, version, level, active, settings, created_at
		FROM rbi_configurations WHERE id = ?`, id), id)
}

func (s *SQLiteStore) ListPolicies(ctx context.Context) ([]model.RBIConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, level, active, settings, created_at
		FROM rbi_configurations ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list policies")
	}
	defer rows.Close()

	var policies []model.RBIConfiguration
	for rows.Next() {
		p, err := scanPolicyRow(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan policy")
		}
		policies = append(policies, *p)
	}
	return policies, eris.Wrap(rows.Err(), "sqlite: list policies")
}

func (s *SQLiteStore) ActivePolicy(ctx context.Context) (*model.RBIConfiguration, error) {
	p, err := s.scanPolicy(s.db.QueryRowContext(ctx, `
		SELECT id, name, version, level, active, settings, created_at
		FROM rbi_configurations WHERE active = 1 LIMIT 1`), "")
	var le *model.LookupError
	if errors.As(err, &le) {
		return nil, nil
	}
	return p, err
}

// ActivatePolicy flips the single active flag inside one transaction so the
// "at most one active configuration" invariant holds at every point in time.
func (s *SQLiteStore) ActivatePolicy(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin activation")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE rbi_configurations SET active = 0 WHERE active = 1`); err != nil {
		return eris.Wrap(err, "sqlite: deactivate policies")
	}
	res, err := tx.ExecContext(ctx, `UPDATE rbi_configurations SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate policy %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: activation rows affected")
	}
	if n == 0 {
		return &model.LookupError{Kind: "policy", Key: id}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit activation")
}

func (s *SQLiteStore) RecordSchedule(ctx context.Context, res model.RBICalculationResult) (string, error) {
	id := uuid.New().String()
	payload, err := json.Marshal(res)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_audit (id, tag, policy_id, level, result, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, res.Tag, res.PolicyID, int(res.Level), string(payload),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: record schedule for %s", res.Tag)
	}
	return id, nil
}

type scanFunc func(dest ...any) error

func scanPolicyRow(scan scanFunc) (*model.RBIConfiguration, error) {
	var p model.RBIConfiguration
	var level int
	var active int
	var settings, created string
	if err := scan(&p.ID, &p.Name, &p.Version, &level, &active, &settings, &created); err != nil {
		return nil, err
	}
	p.Level = model.RBILevel(level)
	p.Active = active != 0
	if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
		return nil, eris.Wrapf(err, "unmarshal settings for policy %s", p.ID)
	}
	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return nil, eris.Wrapf(err, "parse created_at for policy %s", p.ID)
	}
	return &p, nil
}

func (s *SQLiteStore) scanPolicy(row *sql.Row, id string) (*model.RBIConfiguration, error) {
	p, err := scanPolicyRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.LookupError{Kind: "policy", Key: id}
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get policy")
	}
	return p, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
