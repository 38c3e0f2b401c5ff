// Package solver implements optim.Solver on top of the gonum simplex: LP
// relaxations in standard form and a depth-first branch and bound for
// integer variables.
package solver

import (
	"context"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/optim"
)

// Options tune the backend. Zero values select the defaults.
type Options struct {
	// Tolerance is handed to the simplex.
	Tolerance float64
	// TimeLimit bounds one Solve call. Zero means no limit beyond the
	// context deadline.
	TimeLimit time.Duration
	// MaxNodes bounds the branch and bound tree.
	MaxNodes int
}

const (
	defaultTolerance = 1e-9
	defaultMaxNodes  = 20000
)

// Gonum solves problems with gonum's simplex and branch and bound.
type Gonum struct {
	opts Options
	log  logger.Logger
}

// New returns a Gonum solver.
func New(opts Options, log logger.Logger) *Gonum {
	if opts.Tolerance <= 0 {
		opts.Tolerance = defaultTolerance
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = defaultMaxNodes
	}
	return &Gonum{opts: opts, log: logger.OrNop(log)}
}

// Solve returns an optimal solution or a *optim.SolverError.
func (g *Gonum) Solve(ctx context.Context, p *optim.Problem) (optim.Solution, error) {
	if err := p.Validate(); err != nil {
		return optim.Solution{}, &optim.SolverError{Problem: p.Name, Status: optim.Numerical, Err: err}
	}
	start := time.Now()
	deadline := time.Time{}
	if g.opts.TimeLimit > 0 {
		deadline = start.Add(g.opts.TimeLimit)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	pp := prepare(p)
	x, nodes, err := g.branchAndBound(ctx, pp, deadline)
	if err != nil {
		g.log.Debugw("solver failed", map[string]any{
			"problem": p.Name,
			"status":  optim.StatusOf(err).String(),
			"nodes":   nodes,
			"elapsed": time.Since(start).String(),
		})
		return optim.Solution{Nodes: nodes}, err
	}
	obj := p.Objective.Eval(x)
	g.log.Debugw("solver finished", map[string]any{
		"problem":   p.Name,
		"vars":      len(p.Vars),
		"rows":      len(p.Rows),
		"nodes":     nodes,
		"objective": obj,
		"elapsed":   time.Since(start).String(),
	})
	return optim.Solution{Status: optim.Optimal, Objective: obj, Values: x, Nodes: nodes}, nil
}

func (g *Gonum) fail(pp *prepared, status optim.Status, err error) error {
	return &optim.SolverError{Problem: pp.name, Status: status, Err: err}
}

func gap(inc float64) float64 { return 1e-9 * (1 + math.Abs(inc)) }
