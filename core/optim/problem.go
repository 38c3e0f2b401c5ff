// Package optim describes optimisation problems in a neutral algebraic form:
// bounded decision variables, some of them integer, affine constraints and a
// linear objective. Solver backends live in infra/solver.
package optim

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Var is the index of a decision variable in its Problem.
type Var int

// Sense is the relation of a constraint.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	case EQ:
		return "=="
	}
	return fmt.Sprintf("Sense(%d)", int(s))
}

// Term is coefficient times variable.
type Term struct {
	Var  Var
	Coef float64
}

// Expr is an affine expression. Builder methods never mutate the receiver so
// a partial expression can be extended along several paths.
type Expr struct {
	Terms    []Term
	Constant float64
}

// NewExpr returns the expression Σ c·v for the given pairs.
func NewExpr(terms ...Term) Expr { return Expr{Terms: append([]Term(nil), terms...)} }

// Const returns the constant expression c.
func Const(c float64) Expr { return Expr{Constant: c} }

// Sum returns the sum of the given variables.
func Sum(vars ...Var) Expr {
	e := Expr{Terms: make([]Term, len(vars))}
	for i, v := range vars {
		e.Terms[i] = Term{Var: v, Coef: 1}
	}
	return e
}

// Plus returns e + c·v.
func (e Expr) Plus(c float64, v Var) Expr {
	out := Expr{Terms: make([]Term, len(e.Terms), len(e.Terms)+1), Constant: e.Constant}
	copy(out.Terms, e.Terms)
	out.Terms = append(out.Terms, Term{Var: v, Coef: c})
	return out
}

// AddConst returns e + c.
func (e Expr) AddConst(c float64) Expr {
	out := Expr{Terms: append([]Term(nil), e.Terms...), Constant: e.Constant + c}
	return out
}

// Add returns e + k·o.
func (e Expr) Add(o Expr, k float64) Expr {
	out := Expr{Terms: make([]Term, len(e.Terms), len(e.Terms)+len(o.Terms)), Constant: e.Constant + k*o.Constant}
	copy(out.Terms, e.Terms)
	for _, t := range o.Terms {
		out.Terms = append(out.Terms, Term{Var: t.Var, Coef: k * t.Coef})
	}
	return out
}

// Scale returns k·e.
func (e Expr) Scale(k float64) Expr { return Expr{}.Add(e, k) }

// Merged returns the terms with duplicate variables summed, ordered by
// variable, zero coefficients dropped.
func (e Expr) Merged() []Term {
	acc := make(map[Var]float64, len(e.Terms))
	for _, t := range e.Terms {
		acc[t.Var] += t.Coef
	}
	out := make([]Term, 0, len(acc))
	for v, c := range acc {
		if c != 0 {
			out = append(out, Term{Var: v, Coef: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Var < out[j].Var })
	return out
}

// Eval evaluates e at x.
func (e Expr) Eval(x []float64) float64 {
	v := e.Constant
	for _, t := range e.Terms {
		v += t.Coef * x[t.Var]
	}
	return v
}

// Variable describes one decision variable. Bounds may be infinite.
type Variable struct {
	Name    string
	Lower   float64
	Upper   float64
	Integer bool
}

// Constraint is Expr Sense RHS.
type Constraint struct {
	Name  string
	Expr  Expr
	Sense Sense
	RHS   float64
}

// Problem is a linear or mixed-integer linear program.
type Problem struct {
	Name      string
	Vars      []Variable
	Rows      []Constraint
	Objective Expr
	Maximize  bool
}

// NewProblem returns an empty minimisation problem.
func NewProblem(name string) *Problem { return &Problem{Name: name} }

// AddVar adds a continuous variable bounded by [lb, ub].
func (p *Problem) AddVar(name string, lb, ub float64) Var {
	p.Vars = append(p.Vars, Variable{Name: name, Lower: lb, Upper: ub})
	return Var(len(p.Vars) - 1)
}

// AddInt adds an integer variable bounded by [lb, ub].
func (p *Problem) AddInt(name string, lb, ub float64) Var {
	p.Vars = append(p.Vars, Variable{Name: name, Lower: lb, Upper: ub, Integer: true})
	return Var(len(p.Vars) - 1)
}

// AddBinary adds a 0/1 variable.
func (p *Problem) AddBinary(name string) Var { return p.AddInt(name, 0, 1) }

// AddConstraint adds e sense rhs.
func (p *Problem) AddConstraint(name string, e Expr, sense Sense, rhs float64) {
	p.Rows = append(p.Rows, Constraint{Name: name, Expr: e, Sense: sense, RHS: rhs})
}

// Minimize sets the objective to minimise e.
func (p *Problem) Minimize(e Expr) { p.Objective, p.Maximize = e, false }

// MaximizeExpr sets the objective to maximise e.
func (p *Problem) MaximizeExpr(e Expr) { p.Objective, p.Maximize = e, true }

// Fix sets both bounds of v to val.
func (p *Problem) Fix(v Var, val float64) {
	p.Vars[v].Lower = val
	p.Vars[v].Upper = val
}

// IsMIP reports whether the problem has integer variables.
func (p *Problem) IsMIP() bool {
	for _, v := range p.Vars {
		if v.Integer {
			return true
		}
	}
	return false
}

// Validate checks bounds and variable references.
func (p *Problem) Validate() error {
	for i, v := range p.Vars {
		if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) {
			return fmt.Errorf("%s: variable %s has NaN bound", p.Name, v.Name)
		}
		if v.Lower > v.Upper {
			return fmt.Errorf("%s: variable %d (%s) has lower bound %g above upper bound %g", p.Name, i, v.Name, v.Lower, v.Upper)
		}
	}
	check := func(what string, e Expr) error {
		for _, t := range e.Terms {
			if t.Var < 0 || int(t.Var) >= len(p.Vars) {
				return fmt.Errorf("%s: %s references unknown variable %d", p.Name, what, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("%s: %s has non-finite coefficient", p.Name, what)
			}
		}
		return nil
	}
	if err := check("objective", p.Objective); err != nil {
		return err
	}
	for _, r := range p.Rows {
		if math.IsNaN(r.RHS) {
			return fmt.Errorf("%s: constraint %s has NaN right-hand side", p.Name, r.Name)
		}
		if err := check("constraint "+r.Name, r.Expr); err != nil {
			return err
		}
	}
	return nil
}

// Solution is an optimal assignment.
type Solution struct {
	Status    Status
	Objective float64
	Values    []float64
	Nodes     int
}

// Value returns the value of v.
func (s Solution) Value(v Var) float64 { return s.Values[v] }

// Eval evaluates e at the solution.
func (s Solution) Eval(e Expr) float64 { return e.Eval(s.Values) }

// Solver solves problems to optimality or fails with a *SolverError.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (Solution, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, p *Problem) (Solution, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, p *Problem) (Solution, error) { return f(ctx, p) }
