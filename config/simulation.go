package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/routine"
	"github.com/kilianp07/evstation/core/timeseries"
	"github.com/kilianp07/evstation/infra/solver"
)

// SimulationConfig is the horizon of a run. Start and End are RFC3339.
type SimulationConfig struct {
	Start    string  `json:"start"`
	End      string  `json:"end"`
	StepMin  float64 `json:"timedelta_in_min"`
	Seed     uint64  `json:"seed"`
	RunName  string  `json:"run_name"`
	TimeZone string  `json:"time_zone"`
}

func (c *SimulationConfig) SetDefaults() {
	if c.StepMin == 0 {
		c.StepMin = 15
	}
	if c.RunName == "" {
		c.RunName = "evstation"
	}
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}
}

func (c SimulationConfig) Validate() error {
	if c.StepMin <= 0 {
		return fmt.Errorf("timedelta_in_min must be positive")
	}
	_, err := c.Grid()
	return err
}

// Location resolves the time zone of the input workbooks.
func (c SimulationConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// Grid parses the horizon.
func (c SimulationConfig) Grid() (timeseries.Grid, error) {
	if c.Start == "" || c.End == "" {
		return timeseries.Grid{}, errors.New("start and end are required")
	}
	start, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return timeseries.Grid{}, fmt.Errorf("start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, c.End)
	if err != nil {
		return timeseries.Grid{}, fmt.Errorf("end: %w", err)
	}
	g, err := timeseries.NewGrid(start, end, minutes(c.StepMin))
	if err != nil {
		return g, fmt.Errorf("[%s, %s) every %g min: %w", c.Start, c.End, c.StepMin, err)
	}
	return g, nil
}

func minutes(m float64) time.Duration { return time.Duration(m * float64(time.Minute)) }

// InputsConfig locates the station and fleet workbooks.
type InputsConfig struct {
	StationWorkbook string `json:"station_workbook"`
	FleetWorkbook   string `json:"fleet_workbook"`
	// Clusters lists the Cluster<i> sheet indexes to load.
	Clusters  []int              `json:"clusters"`
	Tolerance map[string]float64 `json:"violation_tolerance"`
}

func (c InputsConfig) Validate() error {
	switch {
	case c.StationWorkbook == "":
		return errors.New("inputs: station_workbook is required")
	case c.FleetWorkbook == "":
		return errors.New("inputs: fleet_workbook is required")
	case len(c.Clusters) == 0:
		return errors.New("inputs: at least one cluster sheet is required")
	}
	for id, tol := range c.Tolerance {
		if tol < 0 {
			return fmt.Errorf("inputs: negative violation tolerance for %s", id)
		}
	}
	return nil
}

// OutputsConfig locates the result files. An empty SQLitePath disables the
// result store.
type OutputsConfig struct {
	ClustersWorkbook string `json:"clusters_workbook"`
	FleetWorkbook    string `json:"fleet_workbook"`
	SQLitePath       string `json:"sqlite_path"`
}

func (c *OutputsConfig) SetDefaults() {
	if c.ClustersWorkbook == "" {
		c.ClustersWorkbook = "clusters.xlsx"
	}
	if c.FleetWorkbook == "" {
		c.FleetWorkbook = "fleet_results.xlsx"
	}
}

// ArrivalConfig selects the arrival policy.
type ArrivalConfig struct {
	Policy string `json:"policy"`
}

func (c *ArrivalConfig) SetDefaults() {
	if c.Policy == "" {
		c.Policy = routine.PolicyReservation
	}
}

func (c ArrivalConfig) Validate() error {
	_, err := routine.NewPolicy(c.Policy)
	return err
}

// DeviationConfig is the traffic forecast of one cluster.
type DeviationConfig struct {
	ArrivalDelayMin   float64 `json:"arr_del_in_min"`
	DepartureDelayMin float64 `json:"dep_del_in_min"`
	SoCDecrement      float64 `json:"soc_dec"`
}

// ForecastConfig maps cluster ids to their deviation.
type ForecastConfig map[string]DeviationConfig

func (c ForecastConfig) Validate() error {
	for id, d := range c {
		if d.SoCDecrement < 0 || d.SoCDecrement > 1 {
			return fmt.Errorf("cluster %s: soc_dec %g outside [0, 1]", id, d.SoCDecrement)
		}
	}
	return nil
}

// TrafficForecast converts the section to the model type.
func (c ForecastConfig) TrafficForecast() model.TrafficForecast {
	out := make(model.TrafficForecast, len(c))
	for id, d := range c {
		out[id] = model.Deviation{
			ArrivalDelay:   minutes(d.ArrivalDelayMin),
			DepartureDelay: minutes(d.DepartureDelayMin),
			SoCDecrement:   d.SoCDecrement,
		}
	}
	return out
}

// SolverConfig tunes the MILP backend.
type SolverConfig struct {
	Tolerance        float64 `json:"tolerance"`
	TimeLimitSeconds float64 `json:"time_limit_seconds"`
	MaxNodes         int     `json:"max_nodes"`
}

func (c *SolverConfig) SetDefaults() {
	if c.Tolerance == 0 {
		c.Tolerance = 1e-9
	}
	if c.TimeLimitSeconds == 0 {
		c.TimeLimitSeconds = 60
	}
	if c.MaxNodes == 0 {
		c.MaxNodes = 20000
	}
}

func (c SolverConfig) Validate() error {
	if c.Tolerance <= 0 || c.TimeLimitSeconds < 0 || c.MaxNodes < 0 {
		return errors.New("tolerance must be positive, time limit and node limit not negative")
	}
	return nil
}

// Options converts the section to solver options.
func (c SolverConfig) Options() solver.Options {
	return solver.Options{
		Tolerance: c.Tolerance,
		TimeLimit: time.Duration(c.TimeLimitSeconds * float64(time.Second)),
		MaxNodes:  c.MaxNodes,
	}
}
