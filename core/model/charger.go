package model

import (
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/timeseries"
)

// Charger is one charge point. It serves at most one vehicle at a time and
// keeps its connection history, its supplied and consumed power series and
// the schedules committed for its sessions.
type Charger struct {
	ID                string
	MaxChargePower    float64 // kW
	MaxDischargePower float64 // kW
	Efficiency        float64

	Connections []ConnectionRecord
	Supplied    *timeseries.Series // vehicle side, kW
	Consumed    *timeseries.Series // grid side, kW

	ev           *Vehicle
	schedules    []*ScheduleInstance
	reservations []*Reservation
	cluster      *Cluster
}

// NewCharger validates the ratings and returns an idle charger.
func NewCharger(id string, maxCharge, maxDischarge, efficiency float64) (*Charger, error) {
	if id == "" {
		return nil, invalid("charger without id")
	}
	if maxCharge < 0 || maxDischarge < 0 {
		return nil, invalid("charger %s: negative power rating", id)
	}
	if efficiency <= 0 || efficiency > 1 {
		return nil, invalid("charger %s: efficiency %.3f outside (0, 1]", id, efficiency)
	}
	return &Charger{
		ID:                id,
		MaxChargePower:    maxCharge,
		MaxDischargePower: maxDischarge,
		Efficiency:        efficiency,
		Supplied:          &timeseries.Series{},
		Consumed:          &timeseries.Series{},
	}, nil
}

// Cluster returns the owning cluster, nil for a detached charger.
func (c *Charger) Cluster() *Cluster { return c.cluster }

// Vehicle returns the connected vehicle or nil.
func (c *Charger) Vehicle() *Vehicle { return c.ev }

// Connected reports whether a vehicle is plugged in.
func (c *Charger) Connected() bool { return c.ev != nil }

// GridSide converts a vehicle side power to the grid side.
func (c *Charger) GridSide(p float64) float64 {
	if p > 0 {
		return p / c.Efficiency
	}
	return p * c.Efficiency
}

// Connect plugs ev in at t.
func (c *Charger) Connect(t time.Time, ev *Vehicle) error {
	if c.ev != nil {
		return fmt.Errorf("%w: charger %s holds %s", ErrDoubleConnection, c.ID, c.ev.ID)
	}
	c.ev = ev
	ev.ConnectedCharger = c.ID
	c.Connections = append(c.Connections, ConnectionRecord{VehicleID: ev.ID, Connected: t, Open: true})
	return nil
}

// Disconnect closes the open connection record at t.
func (c *Charger) Disconnect(t time.Time) error {
	if c.ev == nil {
		return fmt.Errorf("%w: charger %s", ErrMissingConnection, c.ID)
	}
	last := &c.Connections[len(c.Connections)-1]
	if t.Before(last.Connected) {
		t = last.Connected
	}
	last.Disconnected = t
	last.Open = false
	c.ev.ConnectedCharger = ""
	c.ev = nil
	return nil
}

// ConnectedSince returns the connection time of the current session.
func (c *Charger) ConnectedSince() (time.Time, bool) {
	if c.ev == nil || len(c.Connections) == 0 {
		return time.Time{}, false
	}
	return c.Connections[len(c.Connections)-1].Connected, true
}

// Reserve books [from, until) for ev in the owning cluster's dataset.
func (c *Charger) Reserve(now, from, until time.Time, ev *Vehicle) (int, error) {
	if c.cluster == nil {
		return -1, fmt.Errorf("charger %s does not belong to a cluster", c.ID)
	}
	return c.cluster.Reserve(now, from, until, ev, c.ID, nil)
}

// Unreserve cancels reservation id at now.
func (c *Charger) Unreserve(now time.Time, id int) error {
	for i, r := range c.reservations {
		if r.ID != id {
			continue
		}
		r.Active = false
		r.CancelledAt = now
		c.reservations = append(c.reservations[:i], c.reservations[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %d on charger %s", ErrUnknownReservation, id, c.ID)
}

// ActiveReservations returns the reservations currently held on the charger.
func (c *Charger) ActiveReservations() []*Reservation {
	out := make([]*Reservation, len(c.reservations))
	copy(out, c.reservations)
	return out
}

func (c *Charger) overlapping(from, until time.Time) *Reservation {
	for _, r := range c.reservations {
		if r.Overlaps(from, until) {
			return r
		}
	}
	return nil
}

// Free reports whether no active reservation intersects [from, until).
func (c *Charger) Free(from, until time.Time) bool {
	return c.overlapping(from, until) == nil
}

// Supply delivers p (vehicle side) for one step and records both power series.
func (c *Charger) Supply(t time.Time, dt time.Duration, p float64) error {
	if c.ev == nil {
		return fmt.Errorf("%w: charger %s", ErrMissingConnection, c.ID)
	}
	if err := c.ev.Charge(t, dt, p); err != nil {
		return err
	}
	c.Supplied.Set(t, p)
	c.Consumed.Set(t, c.GridSide(p))
	return nil
}

// SetSchedule stores a schedule committed to vehicle owner at t. It
// replaces the owner's previous active schedule on this charger.
func (c *Charger) SetSchedule(t time.Time, owner string, s Schedule) {
	if prev := c.ScheduleFor(owner); prev != nil {
		prev.Active = false
	}
	c.schedules = append(c.schedules, &ScheduleInstance{SetAt: t, Owner: owner, Schedule: s, Active: true})
}

// ScheduleFor returns the active schedule of owner or nil.
func (c *Charger) ScheduleFor(owner string) *ScheduleInstance {
	for i := len(c.schedules) - 1; i >= 0; i-- {
		if inst := c.schedules[i]; inst.Active && inst.Owner == owner {
			return inst
		}
	}
	return nil
}

// ActiveSchedule returns the active schedule of the connected vehicle.
func (c *Charger) ActiveSchedule() *ScheduleInstance {
	if c.ev == nil {
		return nil
	}
	return c.ScheduleFor(c.ev.ID)
}

// Schedules returns every schedule instance in the order they were set.
func (c *Charger) Schedules() []*ScheduleInstance {
	out := make([]*ScheduleInstance, len(c.schedules))
	copy(out, c.schedules)
	return out
}

// ClearSchedule deactivates the schedules of owner.
func (c *Charger) ClearSchedule(owner string) {
	for _, inst := range c.schedules {
		if inst.Owner == owner {
			inst.Active = false
		}
	}
}

// MaxEnergy returns the energy (kWs) the uncontrolled charger would deliver
// during dt: the battery headroom bounded by the charger rating and the
// vehicle's SOC dependent cap.
func (c *Charger) MaxEnergy(t time.Time, dt time.Duration) (float64, error) {
	if c.ev == nil {
		return 0, fmt.Errorf("%w: charger %s", ErrMissingConnection, c.ID)
	}
	soc, ok := c.ev.SoC.Get(t)
	if !ok {
		return 0, fmt.Errorf("%w: vehicle %s has no soc at %s", ErrMissingConnection, c.ev.ID, t.Format(time.RFC3339))
	}
	if soc >= c.ev.MaxSoC {
		return 0, nil
	}
	sec := dt.Seconds()
	headroom := (c.ev.MaxSoC - soc) * c.ev.BatteryCapacity
	e := math.Min(headroom, c.MaxChargePower*sec)
	e = math.Min(e, c.ev.ChargeLimit(soc)*sec)
	return math.Max(e, 0), nil
}

// RequestedPower returns MaxEnergy expressed as a vehicle side power.
func (c *Charger) RequestedPower(t time.Time, dt time.Duration) (float64, error) {
	e, err := c.MaxEnergy(t, dt)
	if err != nil {
		return 0, err
	}
	return e / dt.Seconds(), nil
}

// UncontrolledSupply charges the connected vehicle as fast as allowed.
func (c *Charger) UncontrolledSupply(t time.Time, dt time.Duration) error {
	p, err := c.RequestedPower(t, dt)
	if err != nil {
		return err
	}
	return c.Supply(t, dt, p)
}

// Occupation returns 1 for each step in [start, end) covered by a connection.
func (c *Charger) Occupation(start, end time.Time, step time.Duration) []int {
	times := timeseries.Range(start, end, step)
	out := make([]int, len(times))
	for i, t := range times {
		for _, rec := range c.Connections {
			if rec.Covers(t) {
				out[i] = 1
				break
			}
		}
	}
	return out
}

// Availability returns true for each step in [start, end) not intersected by
// an active reservation.
func (c *Charger) Availability(start, end time.Time, step time.Duration) []bool {
	times := timeseries.Range(start, end, step)
	out := make([]bool, len(times))
	for i, t := range times {
		out[i] = c.overlapping(t, t.Add(step)) == nil
	}
	return out
}
