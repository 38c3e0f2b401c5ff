package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprBuildersDoNotAlias(t *testing.T) {
	p := NewProblem("alias")
	a := p.AddVar("a", 0, 1)
	b := p.AddVar("b", 0, 1)
	c := p.AddVar("c", 0, 1)

	base := Sum(a).AddConst(1)
	left := base.Plus(2, b)
	right := base.Plus(3, c)
	x := []float64{1, 1, 1}
	assert.Equal(t, 2.0, base.Eval(x))
	assert.Equal(t, 4.0, left.Eval(x))
	assert.Equal(t, 5.0, right.Eval(x))

	merged := left.Add(right, -1).Merged()
	assert.Equal(t, []Term{{Var: b, Coef: 2}, {Var: c, Coef: -3}}, merged)
	assert.Equal(t, -2.0, base.Scale(-1).Eval(x))
}

func TestValidate(t *testing.T) {
	p := NewProblem("v")
	x := p.AddVar("x", 0, math.Inf(1))
	p.AddConstraint("r", Sum(x), LE, 1)
	require.NoError(t, p.Validate())
	assert.False(t, p.IsMIP())

	p.AddBinary("y")
	assert.True(t, p.IsMIP())
	p.Vars[0].Lower = 2
	p.Vars[0].Upper = 1
	assert.Error(t, p.Validate())

	q := NewProblem("bad ref")
	q.AddConstraint("r", Sum(Var(3)), LE, 1)
	assert.Error(t, q.Validate())
}

func TestSolverErrorMatching(t *testing.T) {
	err := fmt.Errorf("controller: %w", &SolverError{Problem: "p", Status: Infeasible})
	assert.True(t, errors.Is(err, ErrSolver))
	assert.Equal(t, Infeasible, StatusOf(err))
	assert.Equal(t, Optimal, StatusOf(nil))
	assert.Equal(t, Numerical, StatusOf(errors.New("x")))
	assert.Contains(t, err.Error(), "infeasible")

	var s Solver = SolverFunc(func(ctx context.Context, p *Problem) (Solution, error) {
		return Solution{}, &SolverError{Problem: p.Name, Status: TimeLimit, Err: ctx.Err()}
	})
	_, err = s.Solve(context.Background(), NewProblem("q"))
	assert.Equal(t, TimeLimit, StatusOf(err))
}
