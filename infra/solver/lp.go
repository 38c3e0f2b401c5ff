package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/kilianp07/evstation/core/optim"
)

// simplex points to the LP engine. It can be overridden in tests to simulate
// solver failures.
var simplex = lp.Simplex

const (
	fixTol  = 1e-9
	feasTol = 1e-6
	intTol  = 1e-6
)

type row struct {
	name  string
	terms []optim.Term
	sense optim.Sense
	rhs   float64
}

// prepared is a problem normalised for repeated relaxations: merged rows with
// constants moved to the right-hand side and a minimisation objective.
type prepared struct {
	name    string
	n       int
	cost    []float64
	c0      float64
	rows    []row
	integer []bool
	lb, ub  []float64
	rowsOf  [][]int
	obj     optim.Expr
	sign    float64
}

func prepare(p *optim.Problem) *prepared {
	n := len(p.Vars)
	pp := &prepared{
		name:    p.Name,
		n:       n,
		cost:    make([]float64, n),
		integer: make([]bool, n),
		lb:      make([]float64, n),
		ub:      make([]float64, n),
		rowsOf:  make([][]int, n),
		obj:     p.Objective,
		sign:    1,
	}
	if p.Maximize {
		pp.sign = -1
	}
	for j, v := range p.Vars {
		pp.lb[j], pp.ub[j] = v.Lower, v.Upper
		pp.integer[j] = v.Integer
		if v.Integer {
			pp.lb[j] = math.Ceil(v.Lower - intTol)
			pp.ub[j] = math.Floor(v.Upper + intTol)
		}
	}
	for _, t := range p.Objective.Merged() {
		pp.cost[t.Var] += pp.sign * t.Coef
	}
	pp.c0 = pp.sign * p.Objective.Constant
	for _, c := range p.Rows {
		r := row{name: c.Name, terms: c.Expr.Merged(), sense: c.Sense, rhs: c.RHS - c.Expr.Constant}
		idx := len(pp.rows)
		pp.rows = append(pp.rows, r)
		for _, t := range r.terms {
			pp.rowsOf[t.Var] = append(pp.rowsOf[t.Var], idx)
		}
	}
	return pp
}

func satisfied(act float64, sense optim.Sense, rhs float64) bool {
	tol := feasTol * (1 + math.Abs(rhs))
	switch sense {
	case optim.LE:
		return act <= rhs+tol
	case optim.GE:
		return act >= rhs-tol
	default:
		return math.Abs(act-rhs) <= tol
	}
}

func (pp *prepared) rowOK(i int, x []float64) bool {
	r := pp.rows[i]
	var act float64
	for _, t := range r.terms {
		act += t.Coef * x[t.Var]
	}
	return satisfied(act, r.sense, r.rhs)
}

// feasible checks every row and bound at x.
func (pp *prepared) feasible(x, lb, ub []float64) bool {
	for j := range x {
		if x[j] < lb[j]-feasTol*(1+math.Abs(lb[j])) || x[j] > ub[j]+feasTol*(1+math.Abs(ub[j])) {
			return false
		}
	}
	for i := range pp.rows {
		if !pp.rowOK(i, x) {
			return false
		}
	}
	return true
}

// objective returns the internal (minimisation) objective at x.
func (pp *prepared) objective(x []float64) float64 {
	v := pp.c0
	for j, c := range pp.cost {
		v += c * x[j]
	}
	return v
}

type lpResult struct {
	status optim.Status
	x      []float64
	obj    float64
	err    error
}

// column maps an original variable onto standard-form columns:
// x = offset + sign*y[col] - y[neg] (neg only for free variables).
type column struct {
	col    int
	neg    int
	sign   float64
	offset float64
	ub     float64 // finite upper bound of y[col], +Inf when none
}

type entry struct {
	col int
	a   float64
}

type stdRow struct {
	entries []entry
	rhs     float64
	eq      bool
}

// relax solves the LP relaxation of pp under the bounds lb, ub.
func (pp *prepared) relax(lb, ub []float64, tol float64) lpResult {
	n := pp.n
	lb = append([]float64(nil), lb...)
	ub = append([]float64(nil), ub...)
	fixed := make([]bool, n)
	val := make([]float64, n)

	infeasible := func(format string, args ...any) lpResult {
		return lpResult{status: optim.Infeasible, err: fmt.Errorf(format, args...)}
	}

	work := make([]row, len(pp.rows))
	alive := make([]bool, len(pp.rows))
	for i, r := range pp.rows {
		work[i] = row{name: r.name, terms: append([]optim.Term(nil), r.terms...), sense: r.sense, rhs: r.rhs}
		alive[i] = true
	}

	tighten := func(j int, lo, hi float64) bool {
		if pp.integer[j] {
			lo = math.Ceil(lo - intTol)
			hi = math.Floor(hi + intTol)
		}
		if lo > lb[j] {
			lb[j] = lo
		}
		if hi < ub[j] {
			ub[j] = hi
		}
		if lb[j] > ub[j] {
			if lb[j]-ub[j] > feasTol*(1+math.Abs(ub[j])) {
				return false
			}
			ub[j] = lb[j]
		}
		return true
	}

	// Presolve: substitute fixed variables, turn singleton rows into bounds
	// and drop rows without variables.
	for changed := true; changed; {
		changed = false
		for j := 0; j < n; j++ {
			if fixed[j] {
				continue
			}
			if lb[j] > ub[j]+feasTol*(1+math.Abs(ub[j])) {
				return infeasible("variable %d bounds [%g, %g]", j, lb[j], ub[j])
			}
			if ub[j]-lb[j] <= fixTol {
				v := lb[j]
				if pp.integer[j] {
					v = math.Round(v)
				}
				if math.IsInf(v, 0) {
					return infeasible("variable %d fixed at infinity", j)
				}
				fixed[j], val[j] = true, v
				changed = true
			}
		}
		for i := range work {
			if !alive[i] {
				continue
			}
			r := &work[i]
			k := 0
			for _, t := range r.terms {
				if fixed[t.Var] {
					r.rhs -= t.Coef * val[t.Var]
					continue
				}
				r.terms[k] = t
				k++
			}
			r.terms = r.terms[:k]
			switch len(r.terms) {
			case 0:
				if !satisfied(0, r.sense, r.rhs) {
					return infeasible("constraint %s", r.name)
				}
				alive[i] = false
			case 1:
				t := r.terms[0]
				b := r.rhs / t.Coef
				lo, hi := math.Inf(-1), math.Inf(1)
				sense := r.sense
				if t.Coef < 0 && sense != optim.EQ {
					if sense == optim.LE {
						sense = optim.GE
					} else {
						sense = optim.LE
					}
				}
				switch sense {
				case optim.LE:
					hi = b
				case optim.GE:
					lo = b
				default:
					lo, hi = b, b
				}
				if !tighten(int(t.Var), lo, hi) {
					return infeasible("constraint %s", r.name)
				}
				alive[i] = false
				changed = true
			}
		}
	}

	// Map free variables onto non-negative columns.
	cols := make([]column, n)
	ncol := 0
	for j := 0; j < n; j++ {
		if fixed[j] {
			continue
		}
		c := column{col: ncol, neg: -1, sign: 1, ub: math.Inf(1)}
		ncol++
		switch {
		case !math.IsInf(lb[j], -1):
			c.offset = lb[j]
			if !math.IsInf(ub[j], 1) {
				c.ub = ub[j] - lb[j]
			}
		case !math.IsInf(ub[j], 1):
			c.offset, c.sign = ub[j], -1
		default:
			c.neg = ncol
			ncol++
		}
		cols[j] = c
	}

	cost := make([]float64, ncol)
	c0 := pp.c0
	for j := 0; j < n; j++ {
		if fixed[j] {
			c0 += pp.cost[j] * val[j]
			continue
		}
		c := cols[j]
		c0 += pp.cost[j] * c.offset
		cost[c.col] += pp.cost[j] * c.sign
		if c.neg >= 0 {
			cost[c.neg] -= pp.cost[j]
		}
	}

	var rows []stdRow
	for i := range work {
		if !alive[i] {
			continue
		}
		r := work[i]
		sr := stdRow{rhs: r.rhs, eq: r.sense == optim.EQ}
		k := 1.0
		if r.sense == optim.GE {
			k = -1
		}
		for _, t := range r.terms {
			c := cols[t.Var]
			sr.rhs -= t.Coef * c.offset
			sr.entries = append(sr.entries, entry{col: c.col, a: k * t.Coef * c.sign})
			if c.neg >= 0 {
				sr.entries = append(sr.entries, entry{col: c.neg, a: -k * t.Coef})
			}
		}
		sr.rhs *= k
		rows = append(rows, sr)
	}

	colUB := make([]float64, ncol)
	for i := range colUB {
		colUB[i] = math.Inf(1)
	}
	for j := 0; j < n; j++ {
		if !fixed[j] {
			colUB[cols[j].col] = cols[j].ub
		}
	}
	rows = append(rows, boundRows(rows, colUB)...)

	used := make([]bool, ncol)
	for _, r := range rows {
		for _, e := range r.entries {
			if e.a != 0 {
				used[e.col] = true
			}
		}
	}
	for c := 0; c < ncol; c++ {
		if !used[c] && cost[c] < 0 {
			return lpResult{status: optim.Unbounded, err: errors.New("unbounded column with negative cost")}
		}
	}

	y := make([]float64, ncol)
	if len(rows) > 0 {
		var res lpResult
		y, res = solveStandard(rows, cost, used, tol)
		if res.status != optim.Optimal {
			return res
		}
	}

	x := make([]float64, n)
	for j := 0; j < n; j++ {
		if fixed[j] {
			x[j] = val[j]
			continue
		}
		c := cols[j]
		x[j] = c.offset + c.sign*y[c.col]
		if c.neg >= 0 {
			x[j] -= y[c.neg]
		}
		x[j] = math.Max(lb[j], math.Min(ub[j], x[j]))
	}
	return lpResult{status: optim.Optimal, x: x, obj: pp.objective(x)}
}

// boundRows returns the rows y[c] <= ub[c] that the other rows do not already
// imply. An upper bound is implied by a <= row whose other entries have a
// guaranteed lower activity. Bounds implied without using any other upper
// bound may be used to imply further bounds; bounds used to imply another
// bound are kept.
func boundRows(rows []stdRow, ub []float64) []stdRow {
	const (
		explicit = iota
		fromLower
		implied
		locked
	)
	state := make([]int, len(ub))
	impliedBy := func(r stdRow, e entry, minOther float64) bool {
		if e.a <= 0 || math.IsInf(ub[e.col], 1) {
			return false
		}
		bound := (r.rhs - minOther) / e.a
		return bound <= ub[e.col]+feasTol*(1+math.Abs(ub[e.col]))
	}

	for _, r := range rows {
		if r.eq {
			continue
		}
		negatives := 0
		for _, e := range r.entries {
			if e.a < 0 {
				negatives++
			}
		}
		if negatives > 0 {
			continue
		}
		for _, e := range r.entries {
			if state[e.col] == explicit && impliedBy(r, e, 0) {
				state[e.col] = fromLower
			}
		}
	}

	for _, r := range rows {
		if r.eq {
			continue
		}
		var minAct float64
		unusable := 0
		for _, e := range r.entries {
			if e.a >= 0 {
				continue
			}
			if math.IsInf(ub[e.col], 1) || state[e.col] == implied {
				unusable++
				continue
			}
			minAct += e.a * ub[e.col]
		}
		if unusable > 0 {
			continue
		}
		for _, e := range r.entries {
			if state[e.col] != explicit || !impliedBy(r, e, minAct) {
				continue
			}
			state[e.col] = implied
			for _, o := range r.entries {
				if o.a < 0 && state[o.col] == explicit {
					state[o.col] = locked
				}
			}
		}
	}

	var out []stdRow
	for c, u := range ub {
		if math.IsInf(u, 1) {
			continue
		}
		if state[c] == explicit || state[c] == locked {
			out = append(out, stdRow{entries: []entry{{col: c, a: 1}}, rhs: u})
		}
	}
	return out
}

// solveStandard builds the equality form of rows (slack columns for <= rows)
// over the used columns and runs the simplex. It retries with every equality
// split into two inequalities when the equality form is rank deficient.
func solveStandard(rows []stdRow, cost []float64, used []bool, tol float64) ([]float64, lpResult) {
	hasEq := false
	for _, r := range rows {
		if r.eq {
			hasEq = true
			break
		}
	}
	y, res := simplexStandard(rows, cost, used, tol, false)
	if res.status == optim.Numerical && hasEq {
		y, res = simplexStandard(rows, cost, used, tol, true)
	}
	return y, res
}

func simplexStandard(rows []stdRow, cost []float64, used []bool, tol float64, split bool) ([]float64, lpResult) {
	idx := make([]int, len(cost))
	n := 0
	for c := range cost {
		idx[c] = -1
		if used[c] {
			idx[c] = n
			n++
		}
	}
	type line struct {
		entries []entry
		rhs     float64
		slack   bool
	}
	var lines []line
	for _, r := range rows {
		switch {
		case !r.eq:
			lines = append(lines, line{entries: r.entries, rhs: r.rhs, slack: true})
		case split:
			neg := make([]entry, len(r.entries))
			for i, e := range r.entries {
				neg[i] = entry{col: e.col, a: -e.a}
			}
			lines = append(lines, line{entries: r.entries, rhs: r.rhs, slack: true}, line{entries: neg, rhs: -r.rhs, slack: true})
		default:
			lines = append(lines, line{entries: r.entries, rhs: r.rhs})
		}
	}
	slacks := 0
	for _, l := range lines {
		if l.slack {
			slacks++
		}
	}
	m, width := len(lines), n+slacks
	if m > width {
		if !split {
			return nil, lpResult{status: optim.Numerical, err: errors.New("more equalities than columns")}
		}
		return nil, lpResult{status: optim.Infeasible, err: errors.New("over-determined system")}
	}

	A := mat.NewDense(m, width, nil)
	b := make([]float64, m)
	c := make([]float64, width)
	for col, k := range idx {
		if k >= 0 {
			c[k] = cost[col]
		}
	}
	s := n
	for i, l := range lines {
		for _, e := range l.entries {
			if k := idx[e.col]; k >= 0 {
				A.Set(i, k, A.At(i, k)+e.a)
			}
		}
		if l.slack {
			A.Set(i, s, 1)
			s++
		}
		b[i] = l.rhs
	}

	x, err := runSimplex(c, A, b, tol)
	switch {
	case err == nil:
	case errors.Is(err, lp.ErrInfeasible):
		return nil, lpResult{status: optim.Infeasible, err: err}
	case errors.Is(err, lp.ErrUnbounded):
		return nil, lpResult{status: optim.Unbounded, err: err}
	default:
		return nil, lpResult{status: optim.Numerical, err: err}
	}

	y := make([]float64, len(cost))
	for col, k := range idx {
		if k >= 0 {
			y[col] = math.Max(x[k], 0)
		}
	}
	return y, lpResult{status: optim.Optimal}
}

func runSimplex(c []float64, A mat.Matrix, b []float64, tol float64) (x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simplex panic: %v", r)
		}
	}()
	_, x, err = simplex(c, A, b, tol, nil)
	return x, err
}
