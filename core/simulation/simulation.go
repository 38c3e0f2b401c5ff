// Package simulation drives a station over its horizon. Every step runs the
// departure, reservation, arrival and charging control routines in this
// order and stops at the first error.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/evstation/core/control"
	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/routine"
)

// Simulation is one run over a station and its fleet. Strategy nil skips
// the reservation routine.
type Simulation struct {
	Name       string
	Seed       uint64
	Station    *model.Station
	Fleet      *model.Fleet
	Forecast   model.TrafficForecast
	Strategy   routine.Strategy
	Policy     routine.Policy
	Controller control.Controller
	Sink       metrics.MetricsSink
	Log        logger.Logger
}

// Report summarises a finished run.
type Report struct {
	Run      string
	Start    time.Time
	End      time.Time
	Step     time.Duration
	Steps    int
	Stats    routine.Stats
	Overall  []model.ClusterTotals
	Duration time.Duration
}

// StepError wraps the error that stopped a run.
type StepError struct {
	Step time.Time
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step.Format(time.RFC3339), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (s *Simulation) validate() error {
	switch {
	case s.Station == nil:
		return errors.New("simulation without station")
	case s.Fleet == nil:
		return errors.New("simulation without fleet")
	case s.Controller == nil:
		return errors.New("simulation without charging controller")
	case s.Policy == nil:
		return errors.New("simulation without arrival policy")
	}
	return nil
}

// Run simulates every step of the fleet grid.
func (s *Simulation) Run(ctx context.Context) (Report, error) {
	if err := s.validate(); err != nil {
		return Report{}, err
	}
	log := logger.OrNop(s.Log)
	sink := s.Sink
	if sink == nil {
		sink = metrics.NopSink{}
	}
	grid := s.Fleet.Grid
	env := &routine.Env{
		Station:  s.Station,
		Fleet:    s.Fleet,
		Forecast: s.Forecast,
		Rand:     routine.NewRand(s.Seed),
		Log:      log,
	}
	rep := Report{Run: s.Name, Start: grid.Start, End: grid.End, Step: grid.Step}
	began := time.Now()
	log.Infof("run %s: %d vehicles, %d clusters, %d steps of %s", s.Name, s.Fleet.Len(), len(s.Station.Clusters()), grid.Len(), grid.Step)

	for _, t := range grid.Times() {
		if err := ctx.Err(); err != nil {
			return rep, &StepError{Step: t, Err: err}
		}
		before := env.Stats
		if err := s.step(ctx, t, env); err != nil {
			log.Errorf("run %s stopped at %s: %v", s.Name, t.Format(time.RFC3339), err)
			return rep, &StepError{Step: t, Err: err}
		}
		s.Fleet.RecordPresence(t, s.Station.ConnectedVehicles())
		if err := sink.RecordStep(samples(s.Name, s.Station, t)); err != nil {
			log.Warnf("metrics step %s: %v", t.Format(time.RFC3339), err)
		}
		recordEvents(sink, log, s.Name, t, before, env.Stats)
		rep.Steps++
	}

	rep.Stats = env.Stats
	rep.Overall = s.Station.Overall(grid.Start, grid.End, grid.Step)
	rep.Duration = time.Since(began)
	if rec, ok := sink.(metrics.RunRecorder); ok {
		if err := rec.RecordRun(metrics.RunSummary{
			Run:      s.Name,
			Steps:    rep.Steps,
			Admitted: rep.Stats.Admitted,
			Rejected: rep.Stats.Rejected,
			Reserved: rep.Stats.Reserved,
			Duration: rep.Duration,
		}); err != nil {
			log.Warnf("metrics run summary: %v", err)
		}
	}
	log.Infof("run %s done: %d admitted, %d rejected, %d reserved", s.Name, rep.Stats.Admitted, rep.Stats.Rejected, rep.Stats.Reserved)
	return rep, nil
}

func (s *Simulation) step(ctx context.Context, t time.Time, env *routine.Env) error {
	if err := routine.Departure(t, env); err != nil {
		return fmt.Errorf("departure: %w", err)
	}
	if s.Strategy != nil {
		if err := routine.Reservation(ctx, t, env, s.Strategy); err != nil {
			return fmt.Errorf("reservation: %w", err)
		}
	}
	if err := routine.Arrival(t, env, s.Policy); err != nil {
		return fmt.Errorf("arrival: %w", err)
	}
	if err := s.Controller.Run(ctx, t, s.Fleet.Grid.Step, s.Station); err != nil {
		return fmt.Errorf("charging: %w", err)
	}
	return nil
}

func samples(run string, st *model.Station, t time.Time) []metrics.ClusterSample {
	clusters := st.Clusters()
	out := make([]metrics.ClusterSample, len(clusters))
	for i, c := range clusters {
		out[i] = metrics.ClusterSample{
			Run:       run,
			Cluster:   c.ID,
			Time:      t,
			GridPower: c.GridPowerAt(t),
			Lower:     c.LowerAt(t),
			Upper:     c.UpperAt(t),
			Connected: c.NumberOfConnectedChargers(),
		}
	}
	return out
}

func recordEvents(sink metrics.MetricsSink, log logger.Logger, run string, t time.Time, before, after routine.Stats) {
	rec, ok := sink.(metrics.VehicleEventRecorder)
	if !ok {
		return
	}
	deltas := []struct {
		kind string
		n    int
	}{
		{metrics.EventReserved, after.Reserved - before.Reserved},
		{metrics.EventUnreserved, after.Unreserved - before.Unreserved},
		{metrics.EventAdmitted, after.Admitted - before.Admitted},
		{metrics.EventRejected, after.Rejected - before.Rejected},
		{metrics.EventDeparted, after.Departed - before.Departed},
		{metrics.EventMigrated, after.Migrated - before.Migrated},
	}
	for _, d := range deltas {
		if d.n == 0 {
			continue
		}
		if err := rec.RecordVehicleEvent(metrics.VehicleEvent{Run: run, Kind: d.kind, Count: d.n, Time: t}); err != nil {
			log.Warnf("metrics vehicle event: %v", err)
		}
	}
}
