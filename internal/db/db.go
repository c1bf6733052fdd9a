package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stratplan/internal/alloc"
	"stratplan/internal/design"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS designs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    margin_of_error REAL NOT NULL,
    confidence_z REAL NOT NULL,
    notes TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_designs_name ON designs(name);
CREATE INDEX IF NOT EXISTS idx_designs_created ON designs(created_at);

CREATE TABLE IF NOT EXISTS strata (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    design_id INTEGER NOT NULL REFERENCES designs(id) ON DELETE CASCADE,
    stratum_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    population INTEGER NOT NULL,
    std_dev REAL NOT NULL,
    unit_cost REAL NOT NULL,
    unit_time REAL NOT NULL DEFAULT 1,
    UNIQUE(design_id, stratum_id)
);
CREATE INDEX IF NOT EXISTS idx_strata_design ON strata(design_id);

CREATE TABLE IF NOT EXISTS plans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    design_id INTEGER NOT NULL REFERENCES designs(id) ON DELETE CASCADE,
    method TEXT NOT NULL,
    target_variance REAL NOT NULL,
    continuous_n REAL NOT NULL,
    total_sample_size INTEGER NOT NULL,
    notes TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_design ON plans(design_id);
CREATE INDEX IF NOT EXISTS idx_plans_method ON plans(method);
CREATE INDEX IF NOT EXISTS idx_plans_created ON plans(created_at);

CREATE TABLE IF NOT EXISTS allocations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    stratum_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    samples INTEGER NOT NULL,
    UNIQUE(plan_id, stratum_id)
);
CREATE INDEX IF NOT EXISTS idx_allocations_plan ON allocations(plan_id);
`

// Design is a stored survey design row.
type Design struct {
	ID            int64
	Name          string
	MarginOfError float64
	ConfidenceZ   float64
	Notes         string
	CreatedAt     string
}

// Plan is a stored allocation plan row.
type Plan struct {
	ID              int64
	DesignID        int64
	Method          string
	TargetVariance  float64
	ContinuousN     float64
	TotalSampleSize int64
	Notes           string
	CreatedAt       string
}

type DB struct {
	*sql.DB
	path string
}

func (db *DB) Path() string {
	return db.path
}

func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath
	if strings.Contains(dbPath, "?") {
		dsn += "&_pragma=foreign_keys(1)"
	} else {
		dsn += "?_pragma=foreign_keys(1)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	database := &DB{DB: sqlDB, path: dbPath}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	if err := database.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return database, nil
}

// migrate upgrades stores created before the unit_time column existed.
func (db *DB) migrate() error {
	rows, err := db.Query(`PRAGMA table_info(strata)`)
	if err != nil {
		return err
	}

	hasUnitTime := false
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == "unit_time" {
			hasUnitTime = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if hasUnitTime {
		return nil
	}

	if _, err := db.Exec(`ALTER TABLE strata ADD COLUMN unit_time REAL NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("add unit_time column: %w", err)
	}
	return nil
}

// SaveDesign stores a design and its strata in one transaction and
// returns the new design id.
func (db *DB) SaveDesign(d *design.Design, notes string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO designs (name, margin_of_error, confidence_z, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.Name, d.MarginOfError, d.ConfidenceZ, notes, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert design: %w", err)
	}
	designID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, s := range d.Strata {
		_, err := tx.Exec(
			`INSERT INTO strata (design_id, stratum_id, position, population, std_dev, unit_cost, unit_time) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			designID, s.ID, i, s.Population, s.StdDev, s.UnitCost, s.UnitTime,
		)
		if err != nil {
			return 0, fmt.Errorf("insert stratum %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return designID, nil
}

// SavePlan stores a computed plan and its allocations in one transaction
// and returns the new plan id.
func (db *DB) SavePlan(designID int64, p *alloc.Plan, notes string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO plans (design_id, method, target_variance, continuous_n, total_sample_size, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		designID, string(p.Method), p.TargetVariance, p.ContinuousN, p.TotalSampleSize, notes, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert plan: %w", err)
	}
	planID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, a := range p.Allocations {
		_, err := tx.Exec(
			`INSERT INTO allocations (plan_id, stratum_id, position, samples) VALUES (?, ?, ?, ?)`,
			planID, a.StratumID, i, a.Samples,
		)
		if err != nil {
			return 0, fmt.Errorf("insert allocation %s: %w", a.StratumID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return planID, nil
}

// GetDesignByName returns the most recently saved design with the
// given name.
func (db *DB) GetDesignByName(name string) (*Design, error) {
	row := db.QueryRow(
		`SELECT id, name, margin_of_error, confidence_z, COALESCE(notes, ''), created_at FROM designs WHERE name = ? ORDER BY id DESC LIMIT 1`, name)

	var d Design
	if err := row.Scan(&d.ID, &d.Name, &d.MarginOfError, &d.ConfidenceZ, &d.Notes, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (db *DB) GetDesign(id int64) (*Design, error) {
	row := db.QueryRow(
		`SELECT id, name, margin_of_error, confidence_z, COALESCE(notes, ''), created_at FROM designs WHERE id = ?`, id)

	var d Design
	if err := row.Scan(&d.ID, &d.Name, &d.MarginOfError, &d.ConfidenceZ, &d.Notes, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetStrataForDesign returns the stratum table in stored position order.
func (db *DB) GetStrataForDesign(designID int64) ([]design.Stratum, error) {
	rows, err := db.Query(
		`SELECT stratum_id, population, std_dev, unit_cost, unit_time FROM strata WHERE design_id = ? ORDER BY position`, designID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strata []design.Stratum
	for rows.Next() {
		var s design.Stratum
		if err := rows.Scan(&s.ID, &s.Population, &s.StdDev, &s.UnitCost, &s.UnitTime); err != nil {
			return nil, err
		}
		strata = append(strata, s)
	}
	return strata, rows.Err()
}

// LoadDesign reconstructs a full design.Design from a stored row.
func (db *DB) LoadDesign(designID int64) (*design.Design, error) {
	d, err := db.GetDesign(designID)
	if err != nil {
		return nil, err
	}
	strata, err := db.GetStrataForDesign(designID)
	if err != nil {
		return nil, err
	}
	return &design.Design{
		Name:          d.Name,
		MarginOfError: d.MarginOfError,
		ConfidenceZ:   d.ConfidenceZ,
		Strata:        strata,
	}, nil
}

func (db *DB) ListDesigns(limit int, since string) ([]Design, error) {
	query := `SELECT id, name, margin_of_error, confidence_z, COALESCE(notes, ''), created_at FROM designs`
	var args []any
	if since != "" {
		query += ` WHERE created_at >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var designs []Design
	for rows.Next() {
		var d Design
		if err := rows.Scan(&d.ID, &d.Name, &d.MarginOfError, &d.ConfidenceZ, &d.Notes, &d.CreatedAt); err != nil {
			return nil, err
		}
		designs = append(designs, d)
	}
	return designs, rows.Err()
}

func (db *DB) ListPlans(limit int, method string, since string) ([]Plan, error) {
	query := `SELECT id, design_id, method, target_variance, continuous_n, total_sample_size, COALESCE(notes, ''), created_at FROM plans`
	var conditions []string
	var args []any

	if method != "" {
		conditions = append(conditions, "method = ?")
		args = append(args, method)
	}
	if since != "" {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, since)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.DesignID, &p.Method, &p.TargetVariance, &p.ContinuousN, &p.TotalSampleSize, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (db *DB) GetPlan(id int64) (*Plan, error) {
	row := db.QueryRow(
		`SELECT id, design_id, method, target_variance, continuous_n, total_sample_size, COALESCE(notes, ''), created_at FROM plans WHERE id = ?`, id)

	var p Plan
	if err := row.Scan(&p.ID, &p.DesignID, &p.Method, &p.TargetVariance, &p.ContinuousN, &p.TotalSampleSize, &p.Notes, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *DB) GetLatestPlan() (*Plan, error) {
	row := db.QueryRow(
		`SELECT id, design_id, method, target_variance, continuous_n, total_sample_size, COALESCE(notes, ''), created_at FROM plans ORDER BY id DESC LIMIT 1`)

	var p Plan
	if err := row.Scan(&p.ID, &p.DesignID, &p.Method, &p.TargetVariance, &p.ContinuousN, &p.TotalSampleSize, &p.Notes, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAllocationsForPlan returns the stored counts in position order.
func (db *DB) GetAllocationsForPlan(planID int64) ([]alloc.Allocation, error) {
	rows, err := db.Query(
		`SELECT stratum_id, samples FROM allocations WHERE plan_id = ? ORDER BY position`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []alloc.Allocation
	for rows.Next() {
		var a alloc.Allocation
		if err := rows.Scan(&a.StratumID, &a.Samples); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (db *DB) CountPlansForDesign(designID int64) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM plans WHERE design_id = ?`, designID).Scan(&count)
	return count, err
}

func (db *DB) DeletePlan(id int64) error {
	_, err := db.Exec(`DELETE FROM plans WHERE id = ?`, id)
	return err
}

func (db *DB) DeletePlansBefore(date string) (int64, error) {
	res, err := db.Exec(`DELETE FROM plans WHERE created_at < ?`, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteDesign removes a design; strata and plans cascade.
func (db *DB) DeleteDesign(id int64) error {
	_, err := db.Exec(`DELETE FROM designs WHERE id = ?`, id)
	return err
}
