package model

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/evstation/core/timeseries"
)

// LimitEntry is one row of a capacity table: the envelope [LB, UB] applies
// from T until the next row.
type LimitEntry struct {
	T  time.Time
	LB float64
	UB float64
}

// AvailableCharger is one row of an availability query.
type AvailableCharger struct {
	Cluster           string
	Charger           string
	MaxChargePower    float64
	MaxDischargePower float64
	Efficiency        float64
}

// Envelope holds soft lower and upper bounds on net consumption. Unset bounds
// read as -Inf and +Inf.
type Envelope struct {
	Lower *timeseries.Series
	Upper *timeseries.Series
}

func newEnvelope() Envelope {
	return Envelope{Lower: &timeseries.Series{}, Upper: &timeseries.Series{}}
}

func boundAt(s *timeseries.Series, t time.Time, def float64) float64 {
	if s == nil || s.Len() == 0 {
		return def
	}
	if p, ok := s.AsOf(t); ok {
		return p.V
	}
	p, _ := s.First()
	return p.V
}

// UpperAt returns the upper bound at t.
func (e Envelope) UpperAt(t time.Time) float64 { return boundAt(e.Upper, t, math.Inf(1)) }

// LowerAt returns the lower bound at t.
func (e Envelope) LowerAt(t time.Time) float64 { return boundAt(e.Lower, t, math.Inf(-1)) }

// Bounds samples both bounds on [start, end) every step.
func (e Envelope) Bounds(start, end time.Time, step time.Duration) (lower, upper []float64) {
	for _, t := range timeseries.Range(start, end, step) {
		lower = append(lower, e.LowerAt(t))
		upper = append(upper, e.UpperAt(t))
	}
	return lower, upper
}

func (e *Envelope) enter(start, end time.Time, step time.Duration, table []LimitEntry) error {
	lb := make([]timeseries.Point, len(table))
	ub := make([]timeseries.Point, len(table))
	for i, row := range table {
		if row.LB > row.UB {
			return invalid("capacity row %s: lower %.3f above upper %.3f", row.T.Format(time.RFC3339), row.LB, row.UB)
		}
		lb[i] = timeseries.Point{T: row.T, V: row.LB}
		ub[i] = timeseries.Point{T: row.T, V: row.UB}
	}
	if !timeseries.Monotone(lb) {
		return invalid("capacity table time index is not strictly increasing")
	}
	e.Lower = timeseries.Resample(lb, start, end, step, math.Inf(-1))
	e.Upper = timeseries.Resample(ub, start, end, step, math.Inf(1))
	return nil
}

// Cluster is a set of chargers sharing a soft power envelope. It owns the
// connection and reservation datasets of its chargers.
type Cluster struct {
	ID                 string
	ViolationTolerance float64 // kW
	Envelope

	Connections  []ConnectionRow
	Reservations []*Reservation

	chargers map[string]*Charger
	order    []string
	station  *Station
}

// NewCluster builds a cluster from chargers with unique ids.
func NewCluster(id string, tolerance float64, chargers ...*Charger) (*Cluster, error) {
	if id == "" {
		return nil, invalid("cluster without id")
	}
	if tolerance < 0 {
		return nil, invalid("cluster %s: negative violation tolerance", id)
	}
	c := &Cluster{
		ID:                 id,
		ViolationTolerance: tolerance,
		Envelope:           newEnvelope(),
		chargers:           make(map[string]*Charger, len(chargers)),
	}
	for _, ch := range chargers {
		if _, dup := c.chargers[ch.ID]; dup {
			return nil, invalid("cluster %s: duplicate charger id %s", id, ch.ID)
		}
		ch.cluster = c
		c.chargers[ch.ID] = ch
		c.order = append(c.order, ch.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

// Station returns the owning station, nil for a standalone cluster.
func (c *Cluster) Station() *Station { return c.station }

// Charger looks up a charger by id.
func (c *Cluster) Charger(id string) (*Charger, error) {
	ch, ok := c.chargers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in cluster %s", ErrUnknownCharger, id, c.ID)
	}
	return ch, nil
}

// Chargers returns the chargers ordered by id.
func (c *Cluster) Chargers() []*Charger {
	out := make([]*Charger, len(c.order))
	for i, id := range c.order {
		out[i] = c.chargers[id]
	}
	return out
}

// ConnectedChargers returns the chargers holding a vehicle, ordered by id.
func (c *Cluster) ConnectedChargers() []*Charger {
	var out []*Charger
	for _, ch := range c.Chargers() {
		if ch.Connected() {
			out = append(out, ch)
		}
	}
	return out
}

// NumberOfConnectedChargers counts the chargers currently holding a vehicle.
func (c *Cluster) NumberOfConnectedChargers() int { return len(c.ConnectedChargers()) }

// InstalledPower sums the charge ratings of the chargers.
func (c *Cluster) InstalledPower() float64 {
	var total float64
	for _, ch := range c.chargers {
		total += ch.MaxChargePower
	}
	return total
}

// EnterPowerLimits resamples a capacity table onto the simulation grid.
func (c *Cluster) EnterPowerLimits(start, end time.Time, step time.Duration, table []LimitEntry) error {
	if err := c.Envelope.enter(start, end, step, table); err != nil {
		return fmt.Errorf("cluster %s: %w", c.ID, err)
	}
	return nil
}

// QueryAvailability lists the chargers free for every step in [start, end).
func (c *Cluster) QueryAvailability(start, end time.Time, step time.Duration) []AvailableCharger {
	var out []AvailableCharger
	for _, ch := range c.Chargers() {
		free := true
		for _, ok := range ch.Availability(start, end, step) {
			if !ok {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		out = append(out, AvailableCharger{
			Cluster:           c.ID,
			Charger:           ch.ID,
			MaxChargePower:    ch.MaxChargePower,
			MaxDischargePower: ch.MaxDischargePower,
			Efficiency:        ch.Efficiency,
		})
	}
	return out
}

// Reserve allocates a reservation row for ev on charger chargerID over
// [from, until) and sets the vehicle's back-references. A contract, when
// given, becomes the charger's active schedule and fixes the scheduled
// energies and the agreed price.
func (c *Cluster) Reserve(now, from, until time.Time, ev *Vehicle, chargerID string, contract *Contract) (int, error) {
	ch, err := c.Charger(chargerID)
	if err != nil {
		return -1, err
	}
	if !until.After(from) {
		return -1, fmt.Errorf("reservation window [%s, %s) is empty", from.Format(time.RFC3339), until.Format(time.RFC3339))
	}
	if r := ch.overlapping(from, until); r != nil {
		return -1, fmt.Errorf("%w: charger %s already reserved by %s [%s, %s)", ErrReservationOverlap,
			ch.ID, r.VehicleID, r.From.Format(time.RFC3339), r.Until.Format(time.RFC3339))
	}
	r := &Reservation{
		ID:         len(c.Reservations),
		Active:     true,
		VehicleID:  ev.ID,
		ChargerID:  ch.ID,
		ReservedAt: now,
		From:       from,
		Until:      until,
	}
	if contract != nil {
		r.Contract = contract
		r.ScheduledG2V, r.ScheduledV2G = contract.Schedule.Energies()
		r.Price = contract.Price()
		ch.SetSchedule(now, ev.ID, contract.Schedule)
	}
	c.Reservations = append(c.Reservations, r)
	ch.reservations = append(ch.reservations, r)

	ev.Reserved = true
	ev.ReservedCluster = c.ID
	ev.ReservedCharger = ch.ID
	ev.ReservationID = r.ID
	return r.ID, nil
}

// Reservation returns the reservation row id.
func (c *Cluster) Reservation(id int) (*Reservation, error) {
	if id < 0 || id >= len(c.Reservations) {
		return nil, fmt.Errorf("%w: %d in cluster %s", ErrUnknownReservation, id, c.ID)
	}
	return c.Reservations[id], nil
}

// Unreserve cancels reservation id at now.
func (c *Cluster) Unreserve(now time.Time, id int) error {
	r, err := c.Reservation(id)
	if err != nil {
		return err
	}
	if !r.Active {
		return nil
	}
	ch, err := c.Charger(r.ChargerID)
	if err != nil {
		return err
	}
	return ch.Unreserve(now, id)
}

// ActiveReservations returns the active rows ordered by id.
func (c *Cluster) ActiveReservations() []*Reservation {
	var out []*Reservation
	for _, r := range c.Reservations {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// EnterDataOfIncomingVehicle opens the connection row of ev on chargerID.
func (c *Cluster) EnterDataOfIncomingVehicle(t time.Time, ev *Vehicle, chargerID string) error {
	if _, err := c.Charger(chargerID); err != nil {
		return err
	}
	soc, _ := ev.SoCAt(t)
	row := ConnectionRow{
		VehicleID:     ev.ID,
		ArrivalTime:   t,
		ArrivalSoC:    soc,
		ChargerID:     chargerID,
		ReservationID: -1,
		Open:          true,
	}
	if ev.Reserved && ev.ReservedCluster == c.ID {
		row.ReservationID = ev.ReservationID
		if r, err := c.Reservation(ev.ReservationID); err == nil && r.Contract != nil {
			row.HasSchedule = true
			row.ScheduledG2V = r.ScheduledG2V
			row.ScheduledV2G = r.ScheduledV2G
		}
	}
	c.Connections = append(c.Connections, row)
	return nil
}

// EnterDataOfOutgoingVehicle closes the open connection row of ev with the
// energies realised since arrival.
func (c *Cluster) EnterDataOfOutgoingVehicle(t time.Time, ev *Vehicle, step time.Duration) error {
	for i := len(c.Connections) - 1; i >= 0; i-- {
		row := &c.Connections[i]
		if row.VehicleID != ev.ID || !row.Open {
			continue
		}
		g2v, v2g := ev.Energies(row.ArrivalTime, t, step)
		soc, _ := ev.SoCAt(t)
		row.Open = false
		row.LeaveTime = t
		row.LeaveSoC = soc
		row.NetG2V = g2v - v2g
		row.TotalV2G = v2g
		return nil
	}
	return fmt.Errorf("%w: vehicle %s has no open connection in cluster %s", ErrMissingConnection, ev.ID, c.ID)
}

// QueryActualSchedules returns, per charger id, the grid side power of the
// active schedule on [start, end). Cells are zero for unconnected chargers
// and past the connected vehicle's estimated departure.
func (c *Cluster) QueryActualSchedules(start, end time.Time, step time.Duration) map[string][]float64 {
	times := timeseries.Range(start, end, step)
	out := make(map[string][]float64, len(c.chargers))
	for _, ch := range c.Chargers() {
		col := make([]float64, len(times))
		out[ch.ID] = col
		ev := ch.Vehicle()
		inst := ch.ActiveSchedule()
		if ev == nil || inst == nil {
			continue
		}
		for i, t := range times {
			if !ev.EstimatedDeparture.IsZero() && !t.Before(ev.EstimatedDeparture) {
				continue
			}
			col[i] = ch.GridSide(inst.Schedule.PowerAt(t))
		}
	}
	return out
}

// AggregateSchedule sums QueryActualSchedules across chargers.
func (c *Cluster) AggregateSchedule(start, end time.Time, step time.Duration) []float64 {
	n := len(timeseries.Range(start, end, step))
	total := make([]float64, n)
	for _, col := range c.QueryActualSchedules(start, end, step) {
		for i, v := range col {
			total[i] += v
		}
	}
	return total
}

// UncontrolledSupply charges every connected vehicle as fast as allowed.
func (c *Cluster) UncontrolledSupply(t time.Time, dt time.Duration) error {
	for _, ch := range c.ConnectedChargers() {
		if err := ch.UncontrolledSupply(t, dt); err != nil {
			return fmt.Errorf("cluster %s: %w", c.ID, err)
		}
	}
	return nil
}

// GridPowerAt sums the consumed power of the chargers at t.
func (c *Cluster) GridPowerAt(t time.Time) float64 {
	var total float64
	for _, ch := range c.chargers {
		total += ch.Consumed.ValueOr(t, 0)
	}
	return total
}

// ConsumptionProfile returns per-charger consumed power on [start, end) and
// its aggregate.
func (c *Cluster) ConsumptionProfile(start, end time.Time, step time.Duration) (map[string][]float64, []float64) {
	units := make(map[string][]float64, len(c.chargers))
	agg := make([]float64, len(timeseries.Range(start, end, step)))
	for _, ch := range c.Chargers() {
		col := ch.Consumed.Sample(start, end, step)
		units[ch.ID] = col
		for i, v := range col {
			agg[i] += v
		}
	}
	return units, agg
}

// OccupationProfile returns per-charger occupation on [start, end) and the
// number of occupied chargers per step.
func (c *Cluster) OccupationProfile(start, end time.Time, step time.Duration) (map[string][]int, []int) {
	units := make(map[string][]int, len(c.chargers))
	agg := make([]int, len(timeseries.Range(start, end, step)))
	for _, ch := range c.Chargers() {
		col := ch.Occupation(start, end, step)
		units[ch.ID] = col
		for i, v := range col {
			agg[i] += v
		}
	}
	return units, agg
}
