package milp

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/evstation/core/optim"
)

// Potential is the extreme aggregate consumption a fleet can realise.
type Potential struct {
	// Total is the grid-side sum per step.
	Total []float64
	// Power is the vehicle-side power per vehicle and step.
	Power [][]float64
}

// G2VPotential maximises the aggregate grid-side consumption of vehicles
// over h steps under their power, SOC and departure constraints.
func G2VPotential(ctx context.Context, solver optim.Solver, vehicles []FleetVehicle, h int, step time.Duration) (Potential, error) {
	return potential(ctx, solver, vehicles, h, step, true)
}

// V2GPotential minimises the aggregate grid-side consumption, that is it
// finds the largest feasible export per step.
func V2GPotential(ctx context.Context, solver optim.Solver, vehicles []FleetVehicle, h int, step time.Duration) (Potential, error) {
	return potential(ctx, solver, vehicles, h, step, false)
}

func potential(ctx context.Context, solver optim.Solver, vehicles []FleetVehicle, h int, step time.Duration, g2v bool) (Potential, error) {
	if h < 1 || step <= 0 {
		return Potential{}, fmt.Errorf("%w: horizon %d step %s", ErrInvalidInput, h, step)
	}
	name := "v2g_potential"
	if g2v {
		name = "g2v_potential"
	}
	p := optim.NewProblem(name)
	// Minimising consumption never runs both directions at once; maximising
	// it would burn conversion losses unless the flags forbid it.
	binary := func(v FleetVehicle) bool { return g2v && v.eff() < 1 && bidirectional(v) }
	fm, err := addFleet(p, vehicles, h, step, binary)
	if err != nil {
		return Potential{}, err
	}
	total := make([]optim.Expr, h)
	var obj optim.Expr
	for t := 0; t < h; t++ {
		total[t] = fm.clusterFlow(vehicles, "", t)
		obj = obj.Add(total[t], 1)
	}
	if g2v {
		p.MaximizeExpr(obj)
	} else {
		p.Minimize(obj)
	}
	sol, err := solver.Solve(ctx, p)
	if err != nil {
		return Potential{}, err
	}
	out := Potential{Total: make([]float64, h), Power: make([][]float64, len(vehicles))}
	for t := range out.Total {
		out.Total[t] = sol.Eval(total[t])
	}
	for i := range vehicles {
		out.Power[i] = netPower(sol, fm.power[i])
	}
	return out, nil
}
