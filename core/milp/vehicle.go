// Package milp builds the scheduling, rescheduling and routing programs of the
// station and decodes their solutions. Programs are handed to an
// optim.Solver; powers are in kW at the vehicle side unless noted, SOC in
// [0, 1] and battery capacity in kWs.
package milp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/optim"
)

// Variant selects the single-vehicle program.
type Variant int

const (
	// Mixed is the cost-minimising MILP with direction binaries.
	Mixed Variant = iota
	// Linear drops the binaries and keeps the power box.
	Linear
	// CapacityConstrained penalises breaches of a grid-side corridor.
	CapacityConstrained
)

// ErrInvalidInput is returned for inconsistent model inputs.
var ErrInvalidInput = errors.New("invalid model input")

// ScheduleInput describes one vehicle over N steps. Index 0 is the current
// step; Power[N-1] is forced to zero.
type ScheduleInput struct {
	Name         string
	Step         time.Duration
	N            int
	Capacity     float64 // kWs
	InitialSoC   float64
	TargetSoC    float64
	MinSoC       float64
	MaxSoC       float64
	MaxCharge    float64 // kW
	MaxDischarge float64 // kW
	Efficiency   float64 // grid side conversion, 1 when zero
	V2GAllowance float64 // kWs

	// Confidence window: SOC >= CrtSoC from step CrtStep on. CrtStep < 0
	// disables it.
	CrtSoC  float64
	CrtStep int

	Prices    []float64 // per kWh, one per step
	Arbitrage float64

	// CapacityConstrained corridor, grid side, one value per step.
	CorridorLow []float64
	CorridorUp  []float64
	PenaltyUp   []float64
	PenaltyDown []float64
	SoCTieBreak float64
}

// ScheduleResult is a decoded single-vehicle schedule.
type ScheduleResult struct {
	Power     []float64
	SoC       []float64
	Cost      float64 // tariff cost of the schedule
	Objective float64
}

func (in ScheduleInput) validate(variant Variant) error {
	switch {
	case in.N < 1:
		return fmt.Errorf("%w: horizon of %d steps", ErrInvalidInput, in.N)
	case in.Step <= 0:
		return fmt.Errorf("%w: non-positive step", ErrInvalidInput)
	case in.Capacity <= 0:
		return fmt.Errorf("%w: non-positive battery capacity", ErrInvalidInput)
	case in.MinSoC > in.MaxSoC:
		return fmt.Errorf("%w: soc window [%g, %g]", ErrInvalidInput, in.MinSoC, in.MaxSoC)
	case in.Arbitrage < 0 || in.Arbitrage >= 1:
		return fmt.Errorf("%w: arbitrage coefficient %g outside [0, 1)", ErrInvalidInput, in.Arbitrage)
	}
	if variant != CapacityConstrained && len(in.Prices) < in.N {
		return fmt.Errorf("%w: %d prices for %d steps", ErrInvalidInput, len(in.Prices), in.N)
	}
	return nil
}

// Reachable clips target to what the vehicle can reach in n-1 steps from
// soc at maxCharge, and to the SOC window.
func Reachable(soc, target, maxSoC, maxCharge, capacity float64, n int, step time.Duration) float64 {
	if n < 1 {
		return soc
	}
	top := soc + maxCharge*float64(n-1)*step.Seconds()/capacity
	return math.Min(target, math.Min(top, maxSoC))
}

// powerVars holds the split power of one vehicle.
type powerVars struct {
	pos, neg []optim.Var
}

// addPower adds p_pos, p_neg (and direction binaries when binary is set) for
// n steps. Steps at or beyond zeroFrom are fixed to zero.
func addPower(p *optim.Problem, prefix string, n, zeroFrom int, maxCh, maxDs float64, binary bool) powerVars {
	pv := powerVars{pos: make([]optim.Var, n), neg: make([]optim.Var, n)}
	for t := 0; t < n; t++ {
		ch, ds := maxCh, maxDs
		if t >= zeroFrom {
			ch, ds = 0, 0
		}
		pv.pos[t] = p.AddVar(fmt.Sprintf("%s_pos[%d]", prefix, t), 0, ch)
		pv.neg[t] = p.AddVar(fmt.Sprintf("%s_neg[%d]", prefix, t), 0, ds)
		// A flag is only needed when both directions are open.
		if !binary || ch == 0 || ds == 0 {
			continue
		}
		x := p.AddBinary(fmt.Sprintf("%s_x[%d]", prefix, t))
		p.AddConstraint(fmt.Sprintf("%s_ch[%d]", prefix, t), optim.Sum(pv.pos[t]).Plus(-ch, x), optim.LE, 0)
		p.AddConstraint(fmt.Sprintf("%s_ds[%d]", prefix, t), optim.Sum(pv.neg[t]).Plus(ds, x), optim.LE, ds)
	}
	return pv
}

// socExprs returns s[0..n] with s[0] = initial and
// s[t+1] = s[t] + (pos[t] - neg[t]) * dt / capacity.
func socExprs(initial optim.Expr, pv powerVars, n int, step time.Duration, capacity float64) []optim.Expr {
	k := step.Seconds() / capacity
	s := make([]optim.Expr, n+1)
	s[0] = initial
	for t := 0; t < n; t++ {
		s[t+1] = s[t].Plus(k, pv.pos[t]).Plus(-k, pv.neg[t])
	}
	return s
}

// addSoCWindow bounds s[from..to) by [lo, hi]. A row is only added when the
// power box can actually reach the bound from an initial SOC within
// [iniLo, iniHi].
func addSoCWindow(p *optim.Problem, prefix string, s []optim.Expr, from, to int, iniLo, iniHi, lo, hi, up, down float64) {
	for t := from; t < to; t++ {
		if iniLo-down*float64(t) < lo-1e-12 {
			p.AddConstraint(fmt.Sprintf("%s_soc_min[%d]", prefix, t), s[t], optim.GE, lo)
		}
		if iniHi+up*float64(t) > hi+1e-12 {
			p.AddConstraint(fmt.Sprintf("%s_soc_max[%d]", prefix, t), s[t], optim.LE, hi)
		}
	}
}

func gridExpr(pv powerVars, t int, eff float64) optim.Expr {
	return optim.Sum().Plus(1/eff, pv.pos[t]).Plus(-eff, pv.neg[t])
}

func values(sol optim.Solution, vars []optim.Var) []float64 {
	out := make([]float64, len(vars))
	for i, v := range vars {
		out[i] = sol.Value(v)
	}
	return out
}

// OptimalSchedule computes the cost-minimising schedule of one vehicle.
func OptimalSchedule(ctx context.Context, solver optim.Solver, in ScheduleInput, variant Variant) (ScheduleResult, error) {
	if err := in.validate(variant); err != nil {
		return ScheduleResult{}, err
	}
	eff := in.Efficiency
	if eff == 0 {
		eff = 1
	}
	name := in.Name
	if name == "" {
		name = "schedule"
	}
	n := in.N
	p := optim.NewProblem(name)
	maxDs := in.MaxDischarge
	if in.V2GAllowance <= 0 {
		maxDs = 0
	}
	pv := addPower(p, "p", n, n-1, in.MaxCharge, maxDs, variant != Linear && maxDs > 0)
	s := socExprs(optim.Const(in.InitialSoC), pv, n, in.Step, in.Capacity)

	lo, hi := math.Min(in.MinSoC, in.InitialSoC), math.Max(in.MaxSoC, in.InitialSoC)
	k := in.Step.Seconds() / in.Capacity
	addSoCWindow(p, "p", s, 1, n, in.InitialSoC, in.InitialSoC, lo, hi, in.MaxCharge*k, maxDs*k)
	p.AddConstraint("soc_final", s[n-1], optim.EQ, in.TargetSoC)
	if in.CrtStep >= 0 && in.CrtStep < n {
		for t := max(in.CrtStep, 1); t < n; t++ {
			p.AddConstraint(fmt.Sprintf("crt[%d]", t), s[t], optim.GE, in.CrtSoC)
		}
	}
	if maxDs > 0 {
		budget := optim.Sum(pv.neg...).Scale(in.Step.Seconds())
		p.AddConstraint("v2g_budget", budget, optim.LE, in.V2GAllowance)
	}

	h := in.Step.Hours()
	var obj optim.Expr
	switch variant {
	case CapacityConstrained:
		if len(in.CorridorLow) < n || len(in.CorridorUp) < n {
			return ScheduleResult{}, fmt.Errorf("%w: corridor shorter than horizon", ErrInvalidInput)
		}
		for t := 0; t < n; t++ {
			g := gridExpr(pv, t, eff)
			if !math.IsInf(in.CorridorUp[t], 1) {
				e := p.AddVar(fmt.Sprintf("e_up[%d]", t), 0, math.Inf(1))
				p.AddConstraint(fmt.Sprintf("corr_up[%d]", t), g.Plus(-1, e), optim.LE, in.CorridorUp[t])
				obj = obj.Plus(at(in.PenaltyUp, t, 1), e)
			}
			if !math.IsInf(in.CorridorLow[t], -1) {
				e := p.AddVar(fmt.Sprintf("e_dn[%d]", t), 0, math.Inf(1))
				p.AddConstraint(fmt.Sprintf("corr_dn[%d]", t), g.Plus(1, e), optim.GE, in.CorridorLow[t])
				obj = obj.Plus(at(in.PenaltyDown, t, 1), e)
			}
		}
		tie := in.SoCTieBreak
		if tie == 0 {
			tie = 1e-4
		}
		for t := 1; t < n; t++ {
			obj = obj.Add(s[t], -tie)
		}
	default:
		for t := 0; t < n; t++ {
			obj = obj.Plus((1+in.Arbitrage)*in.Prices[t]*h, pv.pos[t])
			obj = obj.Plus(-(1-in.Arbitrage)*in.Prices[t]*h, pv.neg[t])
		}
	}
	p.Minimize(obj)

	sol, err := solver.Solve(ctx, p)
	if err != nil {
		return ScheduleResult{}, err
	}
	res := ScheduleResult{Power: make([]float64, n), SoC: make([]float64, n), Objective: sol.Objective}
	pos, neg := values(sol, pv.pos), values(sol, pv.neg)
	for t := 0; t < n; t++ {
		res.Power[t] = pos[t] - neg[t]
		res.SoC[t] = sol.Eval(s[t])
		res.Cost += (pos[t] - neg[t]) * at(in.Prices, t, 0) * h
	}
	return res, nil
}

func at(v []float64, i int, def float64) float64 {
	if i < len(v) {
		return v[i]
	}
	return def
}
