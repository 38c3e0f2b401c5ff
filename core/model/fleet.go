package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/evstation/core/timeseries"
)

// Fleet owns the vehicles of a run and indexes them by the step of their
// reservation, real arrival and real departure.
type Fleet struct {
	ID   string
	Grid timeseries.Grid

	vehicles  map[string]*Vehicle
	order     []string
	reserving map[int][]*Vehicle
	incoming  map[int][]*Vehicle
	outgoing  map[int][]*Vehicle

	neverReserving []*Vehicle
	neverArriving  []*Vehicle
	neverLeaving   []*Vehicle

	presence *timeseries.Series
}

// NewFleet validates the vehicles and fills the event buckets. Event times
// are snapped up to the grid; events outside the horizon go to the null
// buckets.
func NewFleet(id string, grid timeseries.Grid, vehicles []*Vehicle) (*Fleet, error) {
	f := &Fleet{
		ID:        id,
		Grid:      grid,
		vehicles:  make(map[string]*Vehicle, len(vehicles)),
		reserving: make(map[int][]*Vehicle),
		incoming:  make(map[int][]*Vehicle),
		outgoing:  make(map[int][]*Vehicle),
		presence:  &timeseries.Series{},
	}
	for _, v := range vehicles {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if _, dup := f.vehicles[v.ID]; dup {
			return nil, invalid("fleet %s: duplicate vehicle id %s", id, v.ID)
		}
		if !v.RealArrival.IsZero() && !v.RealDeparture.IsZero() && v.RealDeparture.Before(v.RealArrival) {
			return nil, invalid("vehicle %s departs before it arrives", v.ID)
		}
		if !v.EstimatedArrival.IsZero() && !v.EstimatedDeparture.IsZero() && v.EstimatedDeparture.Before(v.EstimatedArrival) {
			return nil, invalid("vehicle %s: estimated departure before estimated arrival", v.ID)
		}
		f.vehicles[v.ID] = v
		f.order = append(f.order, v.ID)
	}
	sort.Strings(f.order)
	for _, vid := range f.order {
		v := f.vehicles[vid]
		f.reserving, f.neverReserving = f.place(f.reserving, f.neverReserving, v.ReservationTime, v)
		f.incoming, f.neverArriving = f.place(f.incoming, f.neverArriving, v.RealArrival, v)
		f.outgoing, f.neverLeaving = f.place(f.outgoing, f.neverLeaving, v.RealDeparture, v)
	}
	return f, nil
}

func (f *Fleet) place(b map[int][]*Vehicle, null []*Vehicle, t time.Time, v *Vehicle) (map[int][]*Vehicle, []*Vehicle) {
	if t.IsZero() {
		return b, append(null, v)
	}
	at := f.Grid.Ceil(t)
	if !f.Grid.Contains(at) {
		return b, append(null, v)
	}
	i := f.Grid.Index(at)
	b[i] = append(b[i], v)
	return b, null
}

// Vehicle looks up a vehicle by id.
func (f *Fleet) Vehicle(id string) (*Vehicle, error) {
	v, ok := f.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVehicle, id)
	}
	return v, nil
}

// Vehicles returns every vehicle ordered by id.
func (f *Fleet) Vehicles() []*Vehicle {
	out := make([]*Vehicle, len(f.order))
	for i, id := range f.order {
		out[i] = f.vehicles[id]
	}
	return out
}

// Len returns the fleet size.
func (f *Fleet) Len() int { return len(f.order) }

func (f *Fleet) bucket(b map[int][]*Vehicle, t time.Time) []*Vehicle {
	src := b[f.Grid.Index(t)]
	out := make([]*Vehicle, len(src))
	copy(out, src)
	return out
}

// ReservingVehiclesAt returns the vehicles reserving at step t, ordered by id.
func (f *Fleet) ReservingVehiclesAt(t time.Time) []*Vehicle { return f.bucket(f.reserving, t) }

// IncomingVehiclesAt returns the vehicles arriving at step t, ordered by id.
func (f *Fleet) IncomingVehiclesAt(t time.Time) []*Vehicle { return f.bucket(f.incoming, t) }

// OutgoingVehiclesAt returns the vehicles leaving at step t, ordered by id.
func (f *Fleet) OutgoingVehiclesAt(t time.Time) []*Vehicle { return f.bucket(f.outgoing, t) }

// NeverReserving returns the vehicles without a reservation event in the horizon.
func (f *Fleet) NeverReserving() []*Vehicle { return append([]*Vehicle(nil), f.neverReserving...) }

// NeverArriving returns the vehicles without an arrival event in the horizon.
func (f *Fleet) NeverArriving() []*Vehicle { return append([]*Vehicle(nil), f.neverArriving...) }

// NeverLeaving returns the vehicles that do not leave within the horizon.
func (f *Fleet) NeverLeaving() []*Vehicle { return append([]*Vehicle(nil), f.neverLeaving...) }

// IncomingTotal counts the arrival events inside the horizon.
func (f *Fleet) IncomingTotal() int {
	n := 0
	for _, b := range f.incoming {
		n += len(b)
	}
	return n
}

// RecordPresence stores the number of connected vehicles at t.
func (f *Fleet) RecordPresence(t time.Time, n int) { f.presence.Set(t, float64(n)) }

// PresenceDistribution returns the recorded presence counter.
func (f *Fleet) PresenceDistribution() []timeseries.Point { return f.presence.Points() }

// Processed counts the vehicles that were admitted or rejected at arrival.
func (f *Fleet) Processed() (admitted, rejected int) {
	for _, v := range f.vehicles {
		switch {
		case v.Admitted:
			admitted++
		case v.Rejected:
			rejected++
		}
	}
	return admitted, rejected
}
