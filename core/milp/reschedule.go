package milp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/optim"
)

// FleetVehicle is one connected vehicle as seen by the cluster programs.
type FleetVehicle struct {
	ID           string
	Cluster      string
	SoC          float64
	MinSoC       float64
	MaxSoC       float64
	Capacity     float64 // kWs
	Efficiency   float64
	MaxCharge    float64 // kW, vehicle side
	MaxDischarge float64 // kW, vehicle side
	// DepartureSteps is the number of steps until estimated departure.
	// Power is zero from that step on.
	DepartureSteps int
	TargetSoC      float64
	// RhoY weighs the end-of-horizon deviation in kWh.
	RhoY float64
}

// ClusterLimits is the soft envelope of one cluster over the horizon.
// Infinite entries are not enforced.
type ClusterLimits struct {
	ID        string
	Lower     []float64
	Upper     []float64
	Tolerance float64
	RhoEps    float64
}

// RescheduleInput collects the rescheduling program of one or several
// clusters. StationLower and StationUpper are hard and only used when set.
type RescheduleInput struct {
	Name         string
	Step         time.Duration
	Horizon      int
	Vehicles     []FleetVehicle
	Clusters     []ClusterLimits
	StationLower []float64
	StationUpper []float64
	// MaxUnbalance bounds p_cc[c1,t] - p_cc[c2,t] for every pair when > 0.
	MaxUnbalance float64
	// Linear drops the direction binaries.
	Linear bool
}

// RescheduleResult holds the decoded rescheduling solution. Per-vehicle
// slices follow the input order.
type RescheduleResult struct {
	Power        [][]float64 // [v][t], vehicle side
	SoC          [][]float64 // [v][0..H]
	ClusterPower map[string][]float64
	Eps          map[string]float64
	Deviation    []float64
	Objective    float64
}

func (v FleetVehicle) validate() error {
	switch {
	case v.Capacity <= 0:
		return fmt.Errorf("%w: vehicle %s has capacity %g", ErrInvalidInput, v.ID, v.Capacity)
	case v.MinSoC > v.MaxSoC:
		return fmt.Errorf("%w: vehicle %s soc window [%g, %g]", ErrInvalidInput, v.ID, v.MinSoC, v.MaxSoC)
	case v.Efficiency < 0 || v.Efficiency > 1:
		return fmt.Errorf("%w: vehicle %s efficiency %g", ErrInvalidInput, v.ID, v.Efficiency)
	}
	return nil
}

func (v FleetVehicle) eff() float64 {
	if v.Efficiency == 0 {
		return 1
	}
	return v.Efficiency
}

// fleetModel is the shared vehicle part of the cluster programs.
type fleetModel struct {
	power []powerVars
	soc   [][]optim.Expr
}

// addFleet adds power, direction and SOC window constraints for every
// vehicle. binary reports per vehicle whether direction flags are needed.
func addFleet(p *optim.Problem, vehicles []FleetVehicle, h int, step time.Duration, binary func(FleetVehicle) bool) (fleetModel, error) {
	fm := fleetModel{power: make([]powerVars, len(vehicles)), soc: make([][]optim.Expr, len(vehicles))}
	seen := make(map[string]bool, len(vehicles))
	for i, v := range vehicles {
		if err := v.validate(); err != nil {
			return fm, err
		}
		if seen[v.ID] {
			return fm, fmt.Errorf("%w: duplicate vehicle %s", ErrInvalidInput, v.ID)
		}
		seen[v.ID] = true
		prefix := "v_" + v.ID
		dep := min(max(v.DepartureSteps, 0), h)
		fm.power[i] = addPower(p, prefix, h, dep, v.MaxCharge, v.MaxDischarge, binary(v))
		fm.soc[i] = socExprs(optim.Const(v.SoC), fm.power[i], h, step, v.Capacity)
		lo, hi := math.Min(v.MinSoC, v.SoC), math.Max(v.MaxSoC, v.SoC)
		k := step.Seconds() / v.Capacity
		addSoCWindow(p, prefix, fm.soc[i], 1, h+1, v.SoC, v.SoC, lo, hi, v.MaxCharge*k, v.MaxDischarge*k)
	}
	return fm, nil
}

// clusterFlow returns p_cc[c,t] for the vehicles of cluster c, or the whole
// fleet when c is empty.
func (fm fleetModel) clusterFlow(vehicles []FleetVehicle, c string, t int) optim.Expr {
	var e optim.Expr
	for i, v := range vehicles {
		if c != "" && v.Cluster != c {
			continue
		}
		e = e.Add(gridExpr(fm.power[i], t, v.eff()), 1)
	}
	return e
}

func bidirectional(v FleetVehicle) bool { return v.MaxCharge > 0 && v.MaxDischarge > 0 }

// Reschedule solves the cluster rescheduling program: every vehicle moves
// toward its target SOC at the end of the horizon while cluster envelopes
// are honoured up to their tolerance and the station envelope strictly.
func Reschedule(ctx context.Context, solver optim.Solver, in RescheduleInput) (RescheduleResult, error) {
	h := in.Horizon
	if h < 1 || in.Step <= 0 {
		return RescheduleResult{}, fmt.Errorf("%w: horizon %d step %s", ErrInvalidInput, h, in.Step)
	}
	name := in.Name
	if name == "" {
		name = "reschedule"
	}
	p := optim.NewProblem(name)
	binary := func(v FleetVehicle) bool { return !in.Linear && bidirectional(v) }
	fm, err := addFleet(p, in.Vehicles, h, in.Step, binary)
	if err != nil {
		return RescheduleResult{}, err
	}

	known := make(map[string]bool, len(in.Clusters))
	for _, c := range in.Clusters {
		known[c.ID] = true
	}
	for _, v := range in.Vehicles {
		if !known[v.Cluster] {
			return RescheduleResult{}, fmt.Errorf("%w: vehicle %s belongs to unknown cluster %q", ErrInvalidInput, v.ID, v.Cluster)
		}
	}

	var obj optim.Expr
	eps := make([]optim.Var, len(in.Clusters))
	flows := make([][]optim.Expr, len(in.Clusters))
	for ci, c := range in.Clusters {
		eps[ci] = p.AddVar("eps_"+c.ID, 0, math.Max(c.Tolerance, 0))
		obj = obj.Plus(c.RhoEps, eps[ci])
		flows[ci] = make([]optim.Expr, h)
		for t := 0; t < h; t++ {
			g := fm.clusterFlow(in.Vehicles, c.ID, t)
			flows[ci][t] = g
			if up := at(c.Upper, t, math.Inf(1)); !math.IsInf(up, 1) {
				p.AddConstraint(fmt.Sprintf("cc_up_%s[%d]", c.ID, t), g.Plus(-1, eps[ci]), optim.LE, up)
			}
			if low := at(c.Lower, t, math.Inf(-1)); !math.IsInf(low, -1) {
				p.AddConstraint(fmt.Sprintf("cc_low_%s[%d]", c.ID, t), g.Plus(1, eps[ci]), optim.GE, low)
			}
		}
	}

	for t := 0; t < h; t++ {
		up := at(in.StationUpper, t, math.Inf(1))
		low := at(in.StationLower, t, math.Inf(-1))
		if math.IsInf(up, 1) && math.IsInf(low, -1) {
			continue
		}
		cs := fm.clusterFlow(in.Vehicles, "", t)
		if !math.IsInf(up, 1) {
			p.AddConstraint(fmt.Sprintf("cs_up[%d]", t), cs, optim.LE, up)
		}
		if !math.IsInf(low, -1) {
			p.AddConstraint(fmt.Sprintf("cs_low[%d]", t), cs, optim.GE, low)
		}
	}

	if in.MaxUnbalance > 0 {
		for a := range in.Clusters {
			for b := range in.Clusters {
				if a == b {
					continue
				}
				for t := 0; t < h; t++ {
					d := flows[a][t].Add(flows[b][t], -1)
					p.AddConstraint(fmt.Sprintf("unbalance_%s_%s[%d]", in.Clusters[a].ID, in.Clusters[b].ID, t), d, optim.LE, in.MaxUnbalance)
				}
			}
		}
	}

	ys := make([]optim.Var, len(in.Vehicles))
	for i, v := range in.Vehicles {
		ys[i] = p.AddVar("y_"+v.ID, 0, math.Inf(1))
		final := fm.soc[i][h]
		p.AddConstraint("dev_up_"+v.ID, final.Plus(-1, ys[i]), optim.LE, v.TargetSoC)
		p.AddConstraint("dev_dn_"+v.ID, final.Plus(1, ys[i]), optim.GE, v.TargetSoC)
		obj = obj.Plus(v.RhoY*v.Capacity/3600, ys[i])
	}
	p.Minimize(obj)

	sol, err := solver.Solve(ctx, p)
	if err != nil {
		return RescheduleResult{}, err
	}
	res := RescheduleResult{
		Power:        make([][]float64, len(in.Vehicles)),
		SoC:          make([][]float64, len(in.Vehicles)),
		ClusterPower: make(map[string][]float64, len(in.Clusters)),
		Eps:          make(map[string]float64, len(in.Clusters)),
		Deviation:    values(sol, ys),
		Objective:    sol.Objective,
	}
	for i := range in.Vehicles {
		res.Power[i] = netPower(sol, fm.power[i])
		res.SoC[i] = make([]float64, h+1)
		for t := 0; t <= h; t++ {
			res.SoC[i][t] = sol.Eval(fm.soc[i][t])
		}
	}
	for ci, c := range in.Clusters {
		res.Eps[c.ID] = sol.Value(eps[ci])
		flow := make([]float64, h)
		for t := range flow {
			flow[t] = sol.Eval(flows[ci][t])
		}
		res.ClusterPower[c.ID] = flow
	}
	return res, nil
}

func netPower(sol optim.Solution, pv powerVars) []float64 {
	pos, neg := values(sol, pv.pos), values(sol, pv.neg)
	out := make([]float64, len(pos))
	for t := range out {
		out[t] = pos[t] - neg[t]
	}
	return out
}
