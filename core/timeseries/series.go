package timeseries

import (
	"math"
	"sort"
	"time"
)

// Point is one sample of a series.
type Point struct {
	T time.Time
	V float64
}

// Series is an ordered sequence of points with unique timestamps.
// The zero value is an empty series ready to use.
type Series struct {
	pts []Point
}

// NewSeries builds a series from unordered points. Later duplicates win.
func NewSeries(pts ...Point) *Series {
	s := &Series{}
	for _, p := range pts {
		s.Set(p.T, p.V)
	}
	return s
}

func (s *Series) search(t time.Time) int {
	return sort.Search(len(s.pts), func(i int) bool { return !s.pts[i].T.Before(t) })
}

// Set stores v at t, replacing any existing sample at the same instant.
func (s *Series) Set(t time.Time, v float64) {
	n := len(s.pts)
	if n == 0 || s.pts[n-1].T.Before(t) {
		s.pts = append(s.pts, Point{T: t, V: v})
		return
	}
	i := s.search(t)
	if i < n && s.pts[i].T.Equal(t) {
		s.pts[i].V = v
		return
	}
	s.pts = append(s.pts, Point{})
	copy(s.pts[i+1:], s.pts[i:])
	s.pts[i] = Point{T: t, V: v}
}

// Get returns the sample stored exactly at t.
func (s *Series) Get(t time.Time) (float64, bool) {
	i := s.search(t)
	if i < len(s.pts) && s.pts[i].T.Equal(t) {
		return s.pts[i].V, true
	}
	return 0, false
}

// ValueOr returns the sample at t or def when absent.
func (s *Series) ValueOr(t time.Time, def float64) float64 {
	if v, ok := s.Get(t); ok {
		return v
	}
	return def
}

// AsOf returns the last sample at or before t.
func (s *Series) AsOf(t time.Time) (Point, bool) {
	i := s.search(t)
	if i < len(s.pts) && s.pts[i].T.Equal(t) {
		return s.pts[i], true
	}
	if i == 0 {
		return Point{}, false
	}
	return s.pts[i-1], true
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.pts) }

// Points returns a copy of all samples in order.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.pts))
	copy(out, s.pts)
	return out
}

// First returns the earliest sample.
func (s *Series) First() (Point, bool) {
	if len(s.pts) == 0 {
		return Point{}, false
	}
	return s.pts[0], true
}

// Last returns the latest sample.
func (s *Series) Last() (Point, bool) {
	if len(s.pts) == 0 {
		return Point{}, false
	}
	return s.pts[len(s.pts)-1], true
}

// Slice returns the samples in [from, to).
func (s *Series) Slice(from, to time.Time) []Point {
	i := s.search(from)
	j := s.search(to)
	if j < i {
		return nil
	}
	out := make([]Point, j-i)
	copy(out, s.pts[i:j])
	return out
}

// Sum adds the samples in [from, to).
func (s *Series) Sum(from, to time.Time) float64 {
	var total float64
	for _, p := range s.Slice(from, to) {
		total += p.V
	}
	return total
}

// Sample reads the series on the instants [start, end) every step, using 0
// for missing samples.
func (s *Series) Sample(start, end time.Time, step time.Duration) []float64 {
	times := Range(start, end, step)
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = s.ValueOr(t, 0)
	}
	return out
}

// ForwardFill resamples an irregular table onto [start, end) every step.
// Each grid instant takes the value of the last table entry at or before it;
// instants before the first entry take the first entry's value. An empty
// table yields a slice filled with fill.
func ForwardFill(table []Point, start, end time.Time, step time.Duration, fill float64) []float64 {
	times := Range(start, end, step)
	out := make([]float64, len(times))
	if len(table) == 0 {
		for i := range out {
			out[i] = fill
		}
		return out
	}
	sorted := make([]Point, len(table))
	copy(sorted, table)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T.Before(sorted[j].T) })
	j := 0
	cur := sorted[0].V
	for i, t := range times {
		for j < len(sorted) && !sorted[j].T.After(t) {
			cur = sorted[j].V
			j++
		}
		out[i] = cur
	}
	return out
}

// Resample is ForwardFill returning a Series on the grid instants.
func Resample(table []Point, start, end time.Time, step time.Duration, fill float64) *Series {
	vals := ForwardFill(table, start, end, step, fill)
	s := &Series{pts: make([]Point, len(vals))}
	for i, v := range vals {
		s.pts[i] = Point{T: start.Add(time.Duration(i) * step), V: v}
	}
	return s
}

// Monotone reports whether the table timestamps strictly increase.
func Monotone(table []Point) bool {
	for i := 1; i < len(table); i++ {
		if !table[i].T.After(table[i-1].T) {
			return false
		}
	}
	return true
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
