package optim

import (
	"errors"
	"fmt"
)

// Status is the termination status reported by a solver.
type Status int

const (
	Optimal Status = iota
	Infeasible
	Unbounded
	TimeLimit
	NodeLimit
	Numerical
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case TimeLimit:
		return "time limit"
	case NodeLimit:
		return "node limit"
	case Numerical:
		return "numerical failure"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ErrSolver matches every *SolverError with errors.Is.
var ErrSolver = errors.New("solver error")

// SolverError is returned when the backend ends without an optimal solution.
type SolverError struct {
	Problem string
	Status  Status
	Err     error
}

func (e *SolverError) Error() string {
	msg := fmt.Sprintf("solver: %s: %s", e.Problem, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SolverError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSolver) match.
func (e *SolverError) Is(target error) bool { return target == ErrSolver }

// StatusOf returns the status carried by err, Optimal when err is nil and
// Numerical for foreign errors.
func StatusOf(err error) Status {
	if err == nil {
		return Optimal
	}
	var se *SolverError
	if errors.As(err, &se) {
		return se.Status
	}
	return Numerical
}
