// Package app wires configuration, workbooks, solver, metrics and the
// simulation engine into the simulate and generate commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kilianp07/evstation/config"
	"github.com/kilianp07/evstation/core/control"
	coremetrics "github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/optim"
	"github.com/kilianp07/evstation/core/routine"
	"github.com/kilianp07/evstation/core/simulation"
	"github.com/kilianp07/evstation/infra/logger"
	_ "github.com/kilianp07/evstation/infra/metrics" // registers the prometheus and influx sinks
	"github.com/kilianp07/evstation/infra/solver"
	"github.com/kilianp07/evstation/infra/store"
	"github.com/kilianp07/evstation/infra/workbook"
)

// Service runs simulations described by a configuration.
type Service struct {
	cfg *config.Config
	log logger.Logger
}

// Result is a finished run with the loaded inputs it mutated.
type Result struct {
	RunID   string
	Report  simulation.Report
	Station *model.Station
	Fleet   *model.Fleet
}

// New creates a Service from the configuration.
func New(cfg *config.Config) *Service {
	return &Service{cfg: cfg, log: logger.New("service")}
}

// Simulate loads the inputs, runs the simulation and writes the results.
// Nothing is written when the run fails.
func (s *Service) Simulate(ctx context.Context) (res Result, err error) {
	cfg := s.cfg
	if err := cfg.Inputs.Validate(); err != nil {
		return res, err
	}
	if err := cfg.Metrics.Validate(); err != nil {
		return res, err
	}
	grid, err := cfg.Simulation.Grid()
	if err != nil {
		return res, err
	}
	loc, err := cfg.Simulation.Location()
	if err != nil {
		return res, fmt.Errorf("time zone: %w", err)
	}
	st, err := workbook.LoadStation(cfg.Inputs.StationWorkbook, workbook.StationOptions{
		ID:        cfg.Simulation.RunName,
		Clusters:  cfg.Inputs.Clusters,
		Tolerance: cfg.Inputs.Tolerance,
		Location:  loc,
	}, grid)
	if err != nil {
		return res, fmt.Errorf("station: %w", err)
	}
	fleet, err := workbook.LoadFleet(cfg.Inputs.FleetWorkbook, grid, loc)
	if err != nil {
		return res, fmt.Errorf("fleet: %w", err)
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return res, fmt.Errorf("metrics sink: %w", err)
	}
	if c, ok := sink.(io.Closer); ok {
		defer func() { err = errors.Join(err, c.Close()) }()
	}
	slv := coremetrics.InstrumentSolver(solver.New(cfg.Solver.Options(), logger.New("solver")), sink)

	sim, err := s.assemble(slv)
	if err != nil {
		return res, err
	}
	sim.Name = cfg.Simulation.RunName
	sim.Seed = cfg.Simulation.Seed
	sim.Station = st
	sim.Fleet = fleet
	sim.Forecast = cfg.Forecast.TrafficForecast()
	sim.Sink = sink
	sim.Log = logger.New("simulation")

	rep, err := sim.Run(ctx)
	if err != nil {
		return res, err
	}
	res = Result{RunID: store.RunID(sim.Name, sim.Seed), Report: rep, Station: st, Fleet: fleet}
	if err := s.write(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// assemble builds the routines selected by the configuration.
func (s *Service) assemble(slv optim.Solver) (*simulation.Simulation, error) {
	cfg := s.cfg
	policy, err := routine.NewPolicy(cfg.Arrival.Policy)
	if err != nil {
		return nil, err
	}
	// Walk-in vehicles never book a charger.
	var strategy routine.Strategy
	if cfg.Arrival.Policy == routine.PolicyReservation {
		if strategy, err = routine.NewStrategy(cfg.Reservation, slv); err != nil {
			return nil, fmt.Errorf("reservation: %w", err)
		}
	}
	ctrl, err := control.New(cfg.Charging, control.Deps{Solver: slv, Log: logger.New("control")})
	if err != nil {
		return nil, fmt.Errorf("charging: %w", err)
	}
	return &simulation.Simulation{Strategy: strategy, Policy: policy, Controller: ctrl}, nil
}

func (s *Service) write(ctx context.Context, res Result) error {
	out := s.cfg.Outputs
	grid := res.Fleet.Grid
	if out.ClustersWorkbook != "" {
		if err := workbook.WriteClusters(out.ClustersWorkbook, res.Station, grid); err != nil {
			return fmt.Errorf("write clusters: %w", err)
		}
	}
	if out.FleetWorkbook != "" {
		if err := workbook.WriteFleetResults(out.FleetWorkbook, res.Fleet, grid); err != nil {
			return fmt.Errorf("write fleet results: %w", err)
		}
	}
	if out.SQLitePath == "" {
		return nil
	}
	db, err := store.NewSQLiteStore(out.SQLitePath)
	if err != nil {
		return fmt.Errorf("result store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			s.log.Warnf("close result store: %v", err)
		}
	}()
	if err := db.Save(ctx, store.Run{
		ID:      res.RunID,
		Name:    res.Report.Run,
		Seed:    s.cfg.Simulation.Seed,
		Report:  res.Report,
		Station: res.Station,
		Grid:    grid,
	}); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	s.log.Infof("run %s saved to %s", res.RunID, out.SQLitePath)
	return nil
}
