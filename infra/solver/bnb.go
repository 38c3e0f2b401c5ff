package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/optim"
)

type node struct {
	lb, ub []float64
	bound  float64
	res    *lpResult
}

// branchAndBound explores the tree depth first, nearest rounding first. A
// node whose relaxation rounds to a feasible point of equal cost is closed
// without branching.
func (g *Gonum) branchAndBound(ctx context.Context, pp *prepared, deadline time.Time) ([]float64, int, error) {
	root := pp.relax(pp.lb, pp.ub, g.opts.Tolerance)
	switch root.status {
	case optim.Optimal:
	default:
		return nil, 1, g.fail(pp, root.status, root.err)
	}

	var (
		incumbent []float64
		incObj    = math.Inf(1)
		nodes     int
	)
	stack := []node{{lb: pp.lb, ub: pp.ub, bound: root.obj, res: &root}}
	for len(stack) > 0 {
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if nd.bound >= incObj-gap(incObj) {
			continue
		}
		nodes++
		if nodes > g.opts.MaxNodes {
			return nil, nodes, g.fail(pp, optim.NodeLimit, fmt.Errorf("explored %d nodes", g.opts.MaxNodes))
		}
		if err := ctx.Err(); err != nil {
			return nil, nodes, g.fail(pp, optim.TimeLimit, err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, nodes, g.fail(pp, optim.TimeLimit, errors.New("time budget exceeded"))
		}

		res := nd.res
		if res == nil {
			r := pp.relax(nd.lb, nd.ub, g.opts.Tolerance)
			res = &r
		}
		switch res.status {
		case optim.Optimal:
		case optim.Infeasible:
			continue
		default:
			return nil, nodes, g.fail(pp, res.status, res.err)
		}
		if res.obj >= incObj-gap(incObj) {
			continue
		}

		j := mostFractional(pp, res.x)
		if j < 0 {
			incumbent, incObj = roundIntegers(pp, res.x), res.obj
			continue
		}
		if x, ok := pp.round(res.x, nd.lb, nd.ub); ok {
			if obj := pp.objective(x); obj < incObj {
				incumbent, incObj = x, obj
			}
			if incObj <= res.obj+gap(res.obj) {
				continue
			}
		}

		v := res.x[j]
		down := node{lb: nd.lb, ub: withBound(nd.ub, j, math.Floor(v)), bound: res.obj}
		up := node{lb: withBound(nd.lb, j, math.Ceil(v)), ub: nd.ub, bound: res.obj}
		if v-math.Floor(v) >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}
	if incumbent == nil {
		return nil, nodes, g.fail(pp, optim.Infeasible, errors.New("no integer feasible point"))
	}
	return incumbent, nodes, nil
}

func withBound(b []float64, j int, v float64) []float64 {
	out := append([]float64(nil), b...)
	out[j] = v
	return out
}

func fractional(v float64) bool { return math.Abs(v-math.Round(v)) > intTol }

func mostFractional(pp *prepared, x []float64) int {
	best, bestDist := -1, 0.0
	for j, isInt := range pp.integer {
		if !isInt || !fractional(x[j]) {
			continue
		}
		f := x[j] - math.Floor(x[j])
		if d := math.Min(f, 1-f); d > bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

func roundIntegers(pp *prepared, x []float64) []float64 {
	out := append([]float64(nil), x...)
	for j, isInt := range pp.integer {
		if isInt {
			out[j] = math.Round(out[j])
		}
	}
	return out
}

// round tries to move every fractional integer variable to a neighbouring
// integer without violating any row it appears in, keeping the continuous
// part of x.
func (pp *prepared) round(x, lb, ub []float64) ([]float64, bool) {
	y := append([]float64(nil), x...)
	for j, isInt := range pp.integer {
		if !isInt {
			continue
		}
		if !fractional(y[j]) {
			y[j] = math.Round(y[j])
			continue
		}
		lo, hi := math.Floor(y[j]), math.Ceil(y[j])
		cands := [2]float64{lo, hi}
		if y[j]-lo > 0.5 {
			cands = [2]float64{hi, lo}
		}
		ok := false
		for _, c := range cands {
			if c < lb[j] || c > ub[j] {
				continue
			}
			y[j] = c
			if pp.rowsHold(j, y) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, false
		}
	}
	if !pp.feasible(y, lb, ub) {
		return nil, false
	}
	return y, true
}

func (pp *prepared) rowsHold(j int, x []float64) bool {
	for _, i := range pp.rowsOf[j] {
		if !pp.rowOK(i, x) {
			return false
		}
	}
	return true
}
