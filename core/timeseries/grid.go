// Package timeseries provides the fixed-step simulation grid and the ordered
// (timestamp, value) series used for every time-indexed quantity of the
// station: SOC trajectories, supplied power, envelopes and tariffs.
package timeseries

import (
	"errors"
	"time"
)

// ErrInvalidGrid is returned when a grid has a non-positive step or an empty
// horizon.
var ErrInvalidGrid = errors.New("invalid time grid")

// Grid is the half-open horizon [Start, End) sampled every Step.
type Grid struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

// NewGrid validates and returns a grid.
func NewGrid(start, end time.Time, step time.Duration) (Grid, error) {
	if step <= 0 {
		return Grid{}, ErrInvalidGrid
	}
	if !end.After(start) {
		return Grid{}, ErrInvalidGrid
	}
	return Grid{Start: start, End: end, Step: step}, nil
}

// Len returns the number of steps in the horizon.
func (g Grid) Len() int {
	if g.Step <= 0 || !g.End.After(g.Start) {
		return 0
	}
	n := g.End.Sub(g.Start) / g.Step
	if g.Start.Add(n * g.Step).Before(g.End) {
		n++
	}
	return int(n)
}

// At returns the instant of step i.
func (g Grid) At(i int) time.Time {
	return g.Start.Add(time.Duration(i) * g.Step)
}

// Index returns the step containing t. The result may fall outside [0, Len).
func (g Grid) Index(t time.Time) int {
	d := t.Sub(g.Start)
	i := int(d / g.Step)
	if d < 0 && d%g.Step != 0 {
		i--
	}
	return i
}

// Ceil snaps t up to the next grid instant. Instants already on the grid are
// returned unchanged.
func (g Grid) Ceil(t time.Time) time.Time {
	i := g.Index(t)
	at := g.At(i)
	if at.Before(t) {
		at = g.At(i + 1)
	}
	return at
}

// Contains reports whether t lies in [Start, End).
func (g Grid) Contains(t time.Time) bool {
	return !t.Before(g.Start) && t.Before(g.End)
}

// Times lists every grid instant.
func (g Grid) Times() []time.Time {
	return Range(g.Start, g.End, g.Step)
}

// Hours returns the step length in hours.
func (g Grid) Hours() float64 { return g.Step.Hours() }

// Range lists the instants start, start+step, ... strictly before end.
func Range(start, end time.Time, step time.Duration) []time.Time {
	if step <= 0 {
		return nil
	}
	var out []time.Time
	for t := start; t.Before(end); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

// Steps returns the number of grid steps between from and to, rounded up.
// It is zero when to is not after from.
func Steps(from, to time.Time, step time.Duration) int {
	if !to.After(from) || step <= 0 {
		return 0
	}
	d := to.Sub(from)
	n := int(d / step)
	if d%step != 0 {
		n++
	}
	return n
}
