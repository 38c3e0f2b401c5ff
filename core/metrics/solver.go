package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/evstation/core/optim"
)

// InstrumentSolver reports every Solve call of s to sink when it records
// solver calls. Other sinks get s back unchanged.
func InstrumentSolver(s optim.Solver, sink MetricsSink) optim.Solver {
	rec, ok := sink.(SolveRecorder)
	if !ok || s == nil {
		return s
	}
	return optim.SolverFunc(func(ctx context.Context, p *optim.Problem) (optim.Solution, error) {
		start := time.Now()
		sol, err := s.Solve(ctx, p)
		_ = rec.RecordSolve(SolveEvent{Problem: p.Name, Status: optim.StatusOf(err).String(), Nodes: sol.Nodes, Duration: time.Since(start)})
		return sol, err
	})
}
