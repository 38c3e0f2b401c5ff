package milp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/optim"
)

// Candidate is one cluster an approaching vehicle could be routed to. Steps
// are relative to the start of the routing horizon.
type Candidate struct {
	Cluster      string
	Arrival      int
	Departure    int
	ArrivalSoC   float64
	MaxCharge    float64
	MaxDischarge float64
	G2VPrice     []float64
	V2GPrice     []float64
}

// RoutingInput describes the smart-routing program of one vehicle.
type RoutingInput struct {
	Name         string
	Step         time.Duration
	N            int
	Capacity     float64 // kWs
	MinSoC       float64
	MaxSoC       float64
	TargetSoC    float64
	CrtSoC       float64
	CrtStep      int // < 0 disables the confidence window
	V2GAllowance float64 // kWs
	Candidates   []Candidate
}

// RoutingResult is the chosen cluster with the schedule over the horizon.
type RoutingResult struct {
	Index   int
	Cluster string
	Power   []float64
	SoC     []float64
	Cost    float64
}

func (in RoutingInput) validate() error {
	switch {
	case in.N < 1 || in.Step <= 0:
		return fmt.Errorf("%w: horizon %d step %s", ErrInvalidInput, in.N, in.Step)
	case in.Capacity <= 0:
		return fmt.Errorf("%w: non-positive battery capacity", ErrInvalidInput)
	case in.MinSoC > in.MaxSoC:
		return fmt.Errorf("%w: soc window [%g, %g]", ErrInvalidInput, in.MinSoC, in.MaxSoC)
	case len(in.Candidates) == 0:
		return fmt.Errorf("%w: no candidate cluster", ErrInvalidInput)
	}
	for _, c := range in.Candidates {
		if len(c.G2VPrice) < in.N || len(c.V2GPrice) < in.N {
			return fmt.Errorf("%w: cluster %s prices shorter than %d steps", ErrInvalidInput, c.Cluster, in.N)
		}
	}
	return nil
}

// Route picks the cluster and schedule of minimal price for one vehicle.
func Route(ctx context.Context, solver optim.Solver, in RoutingInput) (RoutingResult, error) {
	if err := in.validate(); err != nil {
		return RoutingResult{}, err
	}
	n := in.N
	name := in.Name
	if name == "" {
		name = "routing"
	}
	p := optim.NewProblem(name)
	maxV2G := in.V2GAllowance > 0

	xc := make([]optim.Var, len(in.Candidates))
	pcPos := make([][]optim.Var, len(in.Candidates))
	pcNeg := make([][]optim.Var, len(in.Candidates))
	var pick, s0 optim.Expr
	var maxCh, maxDs float64
	iniLo, iniHi := math.Inf(1), math.Inf(-1)
	for c, cand := range in.Candidates {
		xc[c] = p.AddBinary("xc_" + cand.Cluster)
		pick = pick.Plus(1, xc[c])
		s0 = s0.Plus(cand.ArrivalSoC, xc[c])
		iniLo, iniHi = math.Min(iniLo, cand.ArrivalSoC), math.Max(iniHi, cand.ArrivalSoC)

		ds := cand.MaxDischarge
		if !maxV2G {
			ds = 0
		}
		maxCh, maxDs = math.Max(maxCh, cand.MaxCharge), math.Max(maxDs, ds)
		pcPos[c] = make([]optim.Var, n)
		pcNeg[c] = make([]optim.Var, n)
		for t := 0; t < n; t++ {
			ch, dch := cand.MaxCharge, ds
			if t < cand.Arrival || t >= cand.Departure || t == n-1 {
				ch, dch = 0, 0
			}
			pcPos[c][t] = p.AddVar(fmt.Sprintf("pc_pos_%s[%d]", cand.Cluster, t), 0, ch)
			pcNeg[c][t] = p.AddVar(fmt.Sprintf("pc_neg_%s[%d]", cand.Cluster, t), 0, dch)
			if ch > 0 {
				p.AddConstraint(fmt.Sprintf("pc_pos_sel_%s[%d]", cand.Cluster, t), optim.Sum(pcPos[c][t]).Plus(-ch, xc[c]), optim.LE, 0)
			}
			if dch > 0 {
				p.AddConstraint(fmt.Sprintf("pc_neg_sel_%s[%d]", cand.Cluster, t), optim.Sum(pcNeg[c][t]).Plus(-dch, xc[c]), optim.LE, 0)
			}
		}
	}
	p.AddConstraint("select", pick, optim.EQ, 1)

	k := in.Step.Seconds() / in.Capacity
	s := make([]optim.Expr, n)
	s[0] = s0
	posAt := make([]optim.Expr, n)
	negAt := make([]optim.Expr, n)
	for t := 0; t < n; t++ {
		for c := range in.Candidates {
			posAt[t] = posAt[t].Plus(1, pcPos[c][t])
			negAt[t] = negAt[t].Plus(1, pcNeg[c][t])
		}
		if t+1 < n {
			s[t+1] = s[t].Add(posAt[t], k).Add(negAt[t], -k)
		}
		if maxCh > 0 && maxDs > 0 && t < n-1 {
			x := p.AddBinary(fmt.Sprintf("xp[%d]", t))
			p.AddConstraint(fmt.Sprintf("dir_ch[%d]", t), posAt[t].Plus(-maxCh, x), optim.LE, 0)
			p.AddConstraint(fmt.Sprintf("dir_ds[%d]", t), negAt[t].Plus(maxDs, x), optim.LE, maxDs)
		}
	}

	lo, hi := math.Min(in.MinSoC, iniLo), math.Max(in.MaxSoC, iniHi)
	addSoCWindow(p, "r", s, 1, n, iniLo, iniHi, lo, hi, maxCh*k, maxDs*k)
	if in.CrtStep >= 0 && in.CrtStep < n {
		for t := max(in.CrtStep, 1); t < n; t++ {
			p.AddConstraint(fmt.Sprintf("crt[%d]", t), s[t], optim.GE, in.CrtSoC)
		}
	}
	if maxDs > 0 {
		var budget optim.Expr
		for t := 0; t < n; t++ {
			budget = budget.Add(negAt[t], in.Step.Seconds())
		}
		p.AddConstraint("v2g_budget", budget, optim.LE, in.V2GAllowance)
	}
	p.AddConstraint("soc_final", s[n-1], optim.GE, in.TargetSoC)

	h := in.Step.Hours()
	var obj optim.Expr
	for c, cand := range in.Candidates {
		for t := 0; t < n; t++ {
			obj = obj.Plus(cand.G2VPrice[t]*h, pcPos[c][t])
			obj = obj.Plus(-cand.V2GPrice[t]*h, pcNeg[c][t])
		}
	}
	p.Minimize(obj)

	sol, err := solver.Solve(ctx, p)
	if err != nil {
		return RoutingResult{}, err
	}
	res := RoutingResult{Index: -1, Power: make([]float64, n), SoC: make([]float64, n), Cost: sol.Objective}
	best := -1.0
	for c := range in.Candidates {
		if v := sol.Value(xc[c]); v > best {
			best, res.Index = v, c
		}
	}
	res.Cluster = in.Candidates[res.Index].Cluster
	for t := 0; t < n; t++ {
		res.Power[t] = sol.Eval(posAt[t]) - sol.Eval(negAt[t])
		res.SoC[t] = sol.Eval(s[t])
	}
	return res, nil
}
