package control

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/milp"
	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/optim"
)

// Penalty holds the rescheduling weights of one cluster.
type Penalty struct {
	RhoY   float64 `json:"rho_y"`
	RhoEps float64 `json:"rho_eps"`
}

// MILPConfig configures the rescheduling controllers.
type MILPConfig struct {
	Horizon int `json:"horizon"`
	// Penalties per cluster id. Default applies to clusters not listed.
	Penalties    map[string]Penalty `json:"penalty_parameters"`
	Default      Penalty            `json:"default_penalty"`
	MaxUnbalance float64            `json:"max_unbalance"`
	Linear       bool               `json:"linear"`
}

// SetDefaults fills zero values.
func (c *MILPConfig) SetDefaults() {
	if c.Horizon == 0 {
		c.Horizon = 12
	}
	if c.Default.RhoY == 0 {
		c.Default.RhoY = 1
	}
	if c.Default.RhoEps == 0 {
		c.Default.RhoEps = 100
	}
}

// Validate checks the configuration.
func (c MILPConfig) Validate() error {
	if c.Horizon < 1 {
		return fmt.Errorf("milp controller: horizon %d must be positive", c.Horizon)
	}
	if c.MaxUnbalance < 0 {
		return fmt.Errorf("milp controller: negative max_unbalance")
	}
	for id, p := range c.Penalties {
		if p.RhoY < 0 || p.RhoEps < 0 {
			return fmt.Errorf("milp controller: negative penalty for cluster %s", id)
		}
	}
	return nil
}

func (c MILPConfig) penalty(cluster string) Penalty {
	if p, ok := c.Penalties[cluster]; ok {
		return p
	}
	return c.Default
}

// Rescheduler solves one rescheduling program per active cluster and
// applies the first step of each vehicle's plan.
type Rescheduler struct {
	conf   MILPConfig
	solver optim.Solver
	log    logger.Logger
}

// NewRescheduler returns the decentralised MILP controller.
func NewRescheduler(conf MILPConfig, solver optim.Solver, log logger.Logger) *Rescheduler {
	conf.SetDefaults()
	return &Rescheduler{conf: conf, solver: solver, log: logger.OrNop(log)}
}

func (r *Rescheduler) Run(ctx context.Context, t time.Time, step time.Duration, st *model.Station) error {
	for _, c := range active(st) {
		vehicles, chargers := fleetOf(c, t, step, r.conf)
		limits := limitsOf(c, t, step, r.conf)
		in := milp.RescheduleInput{
			Name:     "reschedule_" + c.ID,
			Step:     step,
			Horizon:  r.conf.Horizon,
			Vehicles: vehicles,
			Clusters: []milp.ClusterLimits{limits},
			Linear:   r.conf.Linear,
		}
		if err := apply(ctx, r.solver, r.log, in, chargers, t, step, st); err != nil {
			return err
		}
	}
	return nil
}

// Central solves a single program over every active cluster, adding the
// station envelope and the inter-cluster unbalance limit.
type Central struct {
	conf   MILPConfig
	solver optim.Solver
	log    logger.Logger
}

// NewCentral returns the centralised MILP controller.
func NewCentral(conf MILPConfig, solver optim.Solver, log logger.Logger) *Central {
	conf.SetDefaults()
	return &Central{conf: conf, solver: solver, log: logger.OrNop(log)}
}

func (r *Central) Run(ctx context.Context, t time.Time, step time.Duration, st *model.Station) error {
	clusters := active(st)
	if len(clusters) == 0 {
		return nil
	}
	end := t.Add(time.Duration(r.conf.Horizon) * step)
	in := milp.RescheduleInput{
		Name:         "reschedule_" + st.ID,
		Step:         step,
		Horizon:      r.conf.Horizon,
		MaxUnbalance: r.conf.MaxUnbalance,
		Linear:       r.conf.Linear,
	}
	in.StationLower, in.StationUpper = st.Bounds(t, end, step)
	var chargers []*model.Charger
	for _, c := range clusters {
		vs, chs := fleetOf(c, t, step, r.conf)
		in.Vehicles = append(in.Vehicles, vs...)
		chargers = append(chargers, chs...)
		in.Clusters = append(in.Clusters, limitsOf(c, t, step, r.conf))
	}
	return apply(ctx, r.solver, r.log, in, chargers, t, step, st)
}

// Guarded is the decentralised rescheduler with envelope repair: bounds the
// fleet cannot reach are replaced by the fleet's V2G or G2V potential before
// solving.
type Guarded struct {
	conf   MILPConfig
	solver optim.Solver
	log    logger.Logger
}

// NewGuarded returns the feasibility-guarded MILP controller.
func NewGuarded(conf MILPConfig, solver optim.Solver, log logger.Logger) *Guarded {
	conf.SetDefaults()
	return &Guarded{conf: conf, solver: solver, log: logger.OrNop(log)}
}

func (g *Guarded) Run(ctx context.Context, t time.Time, step time.Duration, st *model.Station) error {
	for _, c := range active(st) {
		vehicles, chargers := fleetOf(c, t, step, g.conf)
		limits := limitsOf(c, t, step, g.conf)
		if err := g.repair(ctx, c.ID, vehicles, &limits, t, step); err != nil {
			return err
		}
		in := milp.RescheduleInput{
			Name:     "guarded_" + c.ID,
			Step:     step,
			Horizon:  g.conf.Horizon,
			Vehicles: vehicles,
			Clusters: []milp.ClusterLimits{limits},
			Linear:   g.conf.Linear,
		}
		if err := apply(ctx, g.solver, g.log, in, chargers, t, step, st); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guarded) repair(ctx context.Context, cluster string, vehicles []milp.FleetVehicle, lim *milp.ClusterLimits, t time.Time, step time.Duration) error {
	h := g.conf.Horizon
	exports, imports := false, false
	for i := 0; i < h; i++ {
		exports = exports || lim.Upper[i] < 0
		imports = imports || lim.Lower[i] > 0
	}
	if exports {
		pot, err := milp.V2GPotential(ctx, g.solver, vehicles, h, step)
		if err != nil {
			return fmt.Errorf("cluster %s: v2g potential: %w", cluster, err)
		}
		for i, v := range pot.Total {
			if lim.Upper[i] < v {
				lim.Upper[i] = v
			}
		}
		g.log.Debugw("upper limit replaced by v2g potential", map[string]any{"cluster": cluster, "potential": pot.Total})
	}
	if imports {
		pot, err := milp.G2VPotential(ctx, g.solver, vehicles, h, step)
		if err != nil {
			return fmt.Errorf("cluster %s: g2v potential: %w", cluster, err)
		}
		for i, v := range pot.Total {
			if lim.Lower[i] > v {
				lim.Lower[i] = v
			}
		}
		g.log.Debugw("lower limit replaced by g2v potential", map[string]any{"cluster": cluster, "potential": pot.Total})
	}
	if !exports && !imports {
		return nil
	}
	for i := 0; i < h; i++ {
		if lim.Lower[i] > lim.Upper[i]+1e-9 {
			return &EnvelopeInfeasibleError{
				Cluster: cluster,
				Step:    t.Add(time.Duration(i) * step),
				Lower:   lim.Lower[i],
				Upper:   lim.Upper[i],
			}
		}
	}
	return nil
}

// fleetOf describes the vehicles connected to c at t, in charger id order.
func fleetOf(c *model.Cluster, t time.Time, step time.Duration, conf MILPConfig) ([]milp.FleetVehicle, []*model.Charger) {
	pen := conf.penalty(c.ID)
	h := conf.Horizon
	var (
		vehicles []milp.FleetVehicle
		chargers []*model.Charger
	)
	for _, ch := range c.ConnectedChargers() {
		ev := ch.Vehicle()
		soc, _ := ev.SoC.Get(t)
		dep := h
		if !ev.EstimatedDeparture.IsZero() {
			dep = int(math.Ceil(float64(ev.EstimatedDeparture.Sub(t)) / float64(step)))
		}
		target := ev.TargetSoC
		if inst := ch.ActiveSchedule(); inst != nil {
			if s, ok := inst.Schedule.SoCAt(t.Add(time.Duration(h) * step)); ok {
				target = s
			}
		}
		vehicles = append(vehicles, milp.FleetVehicle{
			ID:             ev.ID,
			Cluster:        c.ID,
			SoC:            soc,
			MinSoC:         ev.MinSoC,
			MaxSoC:         ev.MaxSoC,
			Capacity:       ev.BatteryCapacity,
			Efficiency:     ch.Efficiency,
			MaxCharge:      math.Min(ch.MaxChargePower, ev.ChargeLimit(soc)),
			MaxDischarge:   math.Min(ch.MaxDischargePower, ev.MaxDischargePower),
			DepartureSteps: dep,
			TargetSoC:      target,
			RhoY:           pen.RhoY,
		})
		chargers = append(chargers, ch)
	}
	return vehicles, chargers
}

func limitsOf(c *model.Cluster, t time.Time, step time.Duration, conf MILPConfig) milp.ClusterLimits {
	lower, upper := c.Bounds(t, t.Add(time.Duration(conf.Horizon)*step), step)
	return milp.ClusterLimits{
		ID:        c.ID,
		Lower:     lower,
		Upper:     upper,
		Tolerance: c.ViolationTolerance,
		RhoEps:    conf.penalty(c.ID).RhoEps,
	}
}

// apply solves in and supplies the first step of every vehicle.
func apply(ctx context.Context, solver optim.Solver, log logger.Logger, in milp.RescheduleInput, chargers []*model.Charger, t time.Time, step time.Duration, st *model.Station) error {
	start := time.Now()
	res, err := milp.Reschedule(ctx, solver, in)
	if err != nil {
		return fmt.Errorf("%s at %s: %w", in.Name, t.Format(time.RFC3339), err)
	}
	for i, ch := range chargers {
		c := ch.Cluster()
		if err := supply(c, ch, t, step, res.Power[i][0]); err != nil {
			return err
		}
	}
	log.Debugw("reschedule applied", map[string]any{
		"program":   in.Name,
		"vehicles":  len(in.Vehicles),
		"objective": res.Objective,
		"eps":       res.Eps,
		"elapsed":   time.Since(start).String(),
		"grid_kw":   st.GridPowerAt(t),
	})
	return nil
}
