package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/routine"
)

const sample = `
simulation:
  start: "2024-03-04T00:00:00Z"
  end: "2024-03-05T00:00:00Z"
  timedelta_in_min: 30
  seed: 3
inputs:
  station_workbook: station.xlsx
  fleet_workbook: fleet.xlsx
  clusters: [1, 2]
  violation_tolerance:
    C1: 5
reservation:
  strategy: scheduled
  arbitrage_coeff: 0.1
  f_discount: 0.2
  f_markup: 0.3
charging:
  type: milp
  conf:
    horizon: 8
traffic_forecast:
  C1:
    arr_del_in_min: 15
    dep_del_in_min: 30
    soc_dec: 0.05
metrics:
  sinks:
    - type: prometheus
      conf:
        textfile: out.prom
logging:
  level: debug
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(write(t, "config.yaml", sample))
	require.NoError(t, err)

	g, err := cfg.Simulation.Grid()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, g.Step)
	assert.Equal(t, 48, g.Len())
	assert.Equal(t, uint64(3), cfg.Simulation.Seed)
	assert.Equal(t, "evstation", cfg.Simulation.RunName)

	assert.Equal(t, []int{1, 2}, cfg.Inputs.Clusters)
	assert.Equal(t, 5.0, cfg.Inputs.Tolerance["C1"])
	require.NoError(t, cfg.Inputs.Validate())

	assert.Equal(t, routine.StrategyScheduled, cfg.Reservation.Strategy)
	assert.InDelta(t, 0.3, cfg.Reservation.Markup, 1e-12)
	assert.Equal(t, routine.PolicyReservation, cfg.Arrival.Policy)
	assert.Equal(t, "milp", cfg.Charging.Type)
	assert.EqualValues(t, 8, cfg.Charging.Conf["horizon"])

	fc := cfg.Forecast.TrafficForecast()
	assert.Equal(t, 15*time.Minute, fc["C1"].ArrivalDelay)
	assert.Equal(t, 30*time.Minute, fc["C1"].DepartureDelay)

	require.Len(t, cfg.Metrics.Sinks, 1)
	assert.Equal(t, "prometheus", cfg.Metrics.Sinks[0].Type)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "clusters.xlsx", cfg.Outputs.ClustersWorkbook)
	assert.Equal(t, time.Minute, cfg.Solver.Options().TimeLimit)
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(write(t, "config.json", `{
		"simulation": {"start": "2024-03-04T00:00:00Z", "end": "2024-03-04T06:00:00Z"},
		"arrival": {"policy": "walk_in"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 15.0, cfg.Simulation.StepMin)
	assert.Equal(t, routine.PolicyWalkIn, cfg.Arrival.Policy)
	assert.Equal(t, "uncontrolled", cfg.Charging.Type)
	assert.Error(t, cfg.Inputs.Validate())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EVS_SIMULATION__SEED", "42")
	t.Setenv("EVS_SIMULATION__RUN_NAME", "nightly")
	cfg, err := Load(write(t, "config.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.Simulation.Seed)
	assert.Equal(t, "nightly", cfg.Simulation.RunName)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(write(t, "config.toml", "a = 1"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(write(t, "config.yaml", `simulation: {start: "2024-03-04T00:00:00Z"}`))
	assert.Error(t, err)

	_, err = Load(write(t, "config.yaml", sample+"arrival: {policy: teleport}\n"))
	assert.Error(t, err)
}

func TestGeneratorOptions(t *testing.T) {
	gen := GeneratorConfig{Input: "gen.xlsx", VehiclesPerDay: 20, MinStayMin: 60, ReservationLead: 120, Clusters: []string{"C1"}}
	gen.SetDefaults()
	require.NoError(t, gen.Validate())
	assert.Equal(t, ModeIndependent, gen.Mode)

	sim := SimulationConfig{Start: "2024-03-04T00:00:00Z", End: "2024-03-06T00:00:00Z"}
	sim.SetDefaults()
	opts, err := gen.Options(sim)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, opts.MinStay)
	assert.Equal(t, 2*time.Hour, opts.ReservationLead)
	assert.Equal(t, 48*time.Hour, opts.End.Sub(opts.Start))

	gen.Mode = "markov"
	assert.Error(t, gen.Validate())
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Inputs.Validate())
	require.NoError(t, cfg.Generator.Validate())
	assert.Equal(t, "milp_guarded", cfg.Charging.Type)
	g, err := cfg.Simulation.Grid()
	require.NoError(t, err)
	assert.Equal(t, 7*96, g.Len())
}
