// Package store persists simulation results in a SQLite database so that
// runs can be compared with plain SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/simulation"
	"github.com/kilianp07/evstation/core/timeseries"
)

var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kilianp07/evstation/run"))

// RunID derives a stable run id from the run name and seed. Saving the
// same run twice replaces the first copy.
func RunID(name string, seed uint64) string {
	return uuid.NewSHA1(runNamespace, []byte(name+"/"+strconv.FormatUint(seed, 10))).String()
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    name TEXT,
    seed INTEGER,
    start_at INTEGER,
    end_at INTEGER,
    step_seconds INTEGER,
    steps INTEGER,
    reserved INTEGER,
    unreserved INTEGER,
    admitted INTEGER,
    rejected INTEGER,
    departed INTEGER,
    migrated INTEGER,
    duration_ms REAL
);
CREATE TABLE IF NOT EXISTS connections (
    run_id TEXT,
    cluster TEXT,
    vehicle_id TEXT,
    charger_id TEXT,
    arrival INTEGER,
    arrival_soc REAL,
    reservation_id INTEGER,
    scheduled INTEGER,
    scheduled_g2v REAL,
    scheduled_v2g REAL,
    leave_at INTEGER,
    leave_soc REAL,
    net_g2v REAL,
    total_v2g REAL
);
CREATE TABLE IF NOT EXISTS reservations (
    run_id TEXT,
    cluster TEXT,
    reservation_id INTEGER,
    vehicle_id TEXT,
    charger_id TEXT,
    reserved_at INTEGER,
    from_at INTEGER,
    until_at INTEGER,
    cancelled_at INTEGER,
    active INTEGER,
    scheduled_g2v REAL,
    scheduled_v2g REAL,
    price REAL,
    PRIMARY KEY (run_id, cluster, reservation_id)
);
CREATE TABLE IF NOT EXISTS overall (
    run_id TEXT,
    cluster TEXT,
    net_consumption REAL,
    net_g2v REAL,
    total_v2g REAL,
    unfulfilled_g2v REAL,
    unscheduled_v2g REAL,
    PRIMARY KEY (run_id, cluster)
);
CREATE TABLE IF NOT EXISTS cluster_power (
    run_id TEXT,
    cluster TEXT,
    ts INTEGER,
    grid_power REAL,
    lower_kw REAL,
    upper_kw REAL,
    PRIMARY KEY (run_id, cluster, ts)
);`

var tables = []string{"runs", "connections", "reservations", "overall", "cluster_power"}

// SQLiteStore persists run results in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Run is everything saved for one finished simulation.
type Run struct {
	ID      string
	Name    string
	Seed    uint64
	Report  simulation.Report
	Station *model.Station
	Grid    timeseries.Grid
}

// Save writes r in one transaction, replacing a previous run with the same id.
func (s *SQLiteStore) Save(ctx context.Context, r Run) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, t := range tables {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+t+" WHERE run_id = ?", r.ID); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	rep := r.Report
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (run_id, name, seed, start_at, end_at, step_seconds, steps,
        reserved, unreserved, admitted, rejected, departed, migrated, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, int64(r.Seed), unix(rep.Start), unix(rep.End), int64(rep.Step.Seconds()), rep.Steps,
		rep.Stats.Reserved, rep.Stats.Unreserved, rep.Stats.Admitted, rep.Stats.Rejected,
		rep.Stats.Departed, rep.Stats.Migrated, float64(rep.Duration.Microseconds())/1000)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, row := range rep.Overall {
		_, err = tx.ExecContext(ctx, `INSERT INTO overall (run_id, cluster, net_consumption, net_g2v, total_v2g,
            unfulfilled_g2v, unscheduled_v2g) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, row.Cluster, row.NetConsumption, row.NetG2V, row.TotalV2G, row.UnfulfilledG2V, row.UnscheduledV2G)
		if err != nil {
			return fmt.Errorf("insert overall: %w", err)
		}
	}
	if r.Station == nil {
		return tx.Commit()
	}
	if err = s.saveStation(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) saveStation(ctx context.Context, tx *sql.Tx, r Run) error {
	for _, c := range r.Station.ConnectionDataset() {
		var leave, leaveSoC any
		if !c.Open {
			leave, leaveSoC = unix(c.LeaveTime), c.LeaveSoC
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO connections (run_id, cluster, vehicle_id, charger_id, arrival,
            arrival_soc, reservation_id, scheduled, scheduled_g2v, scheduled_v2g, leave_at, leave_soc, net_g2v, total_v2g)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, c.Cluster, c.VehicleID, c.ChargerID, unix(c.ArrivalTime), c.ArrivalSoC, c.ReservationID,
			c.HasSchedule, c.ScheduledG2V, c.ScheduledV2G, leave, leaveSoC, c.NetG2V, c.TotalV2G)
		if err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
	}
	for _, c := range r.Station.Clusters() {
		for _, res := range c.Reservations {
			var cancelled any
			if res.Cancelled() {
				cancelled = unix(res.CancelledAt)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO reservations (run_id, cluster, reservation_id, vehicle_id,
                charger_id, reserved_at, from_at, until_at, cancelled_at, active, scheduled_g2v, scheduled_v2g, price)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, c.ID, res.ID, res.VehicleID, res.ChargerID, unix(res.ReservedAt), unix(res.From), unix(res.Until),
				cancelled, res.Active, res.ScheduledG2V, res.ScheduledV2G, res.Price)
			if err != nil {
				return fmt.Errorf("insert reservation: %w", err)
			}
		}
		_, agg := c.ConsumptionProfile(r.Grid.Start, r.Grid.End, r.Grid.Step)
		lower, upper := c.Bounds(r.Grid.Start, r.Grid.End, r.Grid.Step)
		for i, t := range r.Grid.Times() {
			_, err := tx.ExecContext(ctx, `INSERT INTO cluster_power (run_id, cluster, ts, grid_power, lower_kw, upper_kw)
                VALUES (?, ?, ?, ?, ?, ?)`, r.ID, c.ID, unix(t), agg[i], nullable(lower[i]), nullable(upper[i]))
			if err != nil {
				return fmt.Errorf("insert cluster power: %w", err)
			}
		}
	}
	return nil
}

// Overall returns the stored totals of a run ordered by cluster, the grand
// total row included.
func (s *SQLiteStore) Overall(ctx context.Context, runID string) ([]model.ClusterTotals, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cluster, net_consumption, net_g2v, total_v2g, unfulfilled_g2v,
        unscheduled_v2g FROM overall WHERE run_id = ? ORDER BY cluster`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.ClusterTotals
	for rows.Next() {
		var t model.ClusterTotals
		if err := rows.Scan(&t.Cluster, &t.NetConsumption, &t.NetG2V, &t.TotalV2G, &t.UnfulfilledG2V, &t.UnscheduledV2G); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// ClusterPower returns the stored grid-side power of a cluster per step.
func (s *SQLiteStore) ClusterPower(ctx context.Context, runID, cluster string) ([]timeseries.Point, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, grid_power FROM cluster_power
        WHERE run_id = ? AND cluster = ? ORDER BY ts`, runID, cluster)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []timeseries.Point
	for rows.Next() {
		var ts int64
		var v float64
		if err := rows.Scan(&ts, &v); err != nil {
			return nil, err
		}
		res = append(res, timeseries.Point{T: time.Unix(ts, 0).UTC(), V: v})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Count returns the number of rows a table holds for runID.
func (s *SQLiteStore) Count(ctx context.Context, table, runID string) (int, error) {
	known := false
	for _, t := range tables {
		known = known || t == table
	}
	if !known {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func unix(t time.Time) int64 { return t.Unix() }

// nullable stores an unconstrained bound as NULL.
func nullable(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}
