package routine

import (
	"fmt"
	"time"

	"github.com/kilianp07/evstation/core/model"
)

// Arrival policy names.
const (
	PolicyReservation = "reservation"
	PolicyWalkIn      = "walk_in"
)

// Policy admits or rejects one arriving vehicle. Rejection is not an error.
type Policy interface {
	Arrive(t time.Time, env *Env, ev *model.Vehicle) error
}

// NewPolicy returns the arrival policy called name. An empty name selects
// the reservation policy.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case "", PolicyReservation:
		return ReservationOnly{}, nil
	case PolicyWalkIn:
		return WalkIn{}, nil
	default:
		return nil, fmt.Errorf("%w: arrival policy %q", ErrUnknownStrategy, name)
	}
}

// Arrival runs the arrival routine at t.
func Arrival(t time.Time, env *Env, p Policy) error {
	for _, ev := range env.Fleet.IncomingVehiclesAt(t) {
		if err := p.Arrive(t, env, ev); err != nil {
			return fmt.Errorf("arrival of %s: %w", ev.ID, err)
		}
	}
	return nil
}

// ReservationOnly admits vehicles holding a reservation. When the reserved
// charger is occupied the reservation moves to a free charger of the same
// cluster, preferring one with identical ratings, then the most powerful.
type ReservationOnly struct{}

func (ReservationOnly) Arrive(t time.Time, env *Env, ev *model.Vehicle) error {
	if !ev.Reserved {
		env.reject(t, ev, "no reservation")
		return nil
	}
	c, err := env.Station.Cluster(ev.ReservedCluster)
	if err != nil {
		return err
	}
	ch, err := c.Charger(ev.ReservedCharger)
	if err != nil {
		return err
	}
	if !ch.Connected() {
		return env.admit(t, c, ch, ev)
	}

	r, err := c.Reservation(ev.ReservationID)
	if err != nil {
		return err
	}
	until := r.Until
	if !until.After(t) {
		until = t.Add(env.step())
	}
	alt := env.alternative(c, ch, t, until)
	if err := c.Unreserve(t, r.ID); err != nil {
		return err
	}
	ch.ClearSchedule(ev.ID)
	if alt == nil {
		ev.ClearReservation()
		env.reject(t, ev, model.ErrNoAvailableCharger.Error())
		return nil
	}
	if _, err := c.Reserve(t, t, until, ev, alt.ID, r.Contract); err != nil {
		return err
	}
	env.Stats.Migrated++
	env.log().Debugw("reservation migrated", map[string]any{"vehicle": ev.ID, "cluster": c.ID, "from": ch.ID, "to": alt.ID})
	return env.admit(t, c, alt, ev)
}

// alternative picks the replacement of the occupied charger or nil.
func (e *Env) alternative(c *model.Cluster, occupied *model.Charger, from, until time.Time) *model.Charger {
	free := freeChargers(c, occupied, from, until)
	if len(free) == 0 {
		return nil
	}
	var same []*model.Charger
	for _, ch := range free {
		if ch.MaxChargePower == occupied.MaxChargePower &&
			ch.MaxDischargePower == occupied.MaxDischargePower &&
			ch.Efficiency == occupied.Efficiency {
			same = append(same, ch)
		}
	}
	if len(same) > 0 {
		return same[e.intn(len(same))]
	}
	best := free[0]
	for _, ch := range free[1:] {
		if ch.MaxChargePower > best.MaxChargePower {
			best = ch
		}
	}
	return best
}

// WalkIn admits vehicles without prior reservation: the vehicle drives to
// its target cluster, or the first cluster with room when it has none, and
// books a random free charger until its departure.
type WalkIn struct{}

func (WalkIn) Arrive(t time.Time, env *Env, ev *model.Vehicle) error {
	clusters := env.Station.Clusters()
	if ev.TargetCluster != "" {
		c, err := env.Station.Cluster(ev.TargetCluster)
		if err != nil {
			return err
		}
		clusters = []*model.Cluster{c}
	}
	until := env.departure(ev, t)
	for _, c := range clusters {
		free := freeChargers(c, nil, t, until)
		if len(free) == 0 {
			continue
		}
		ch := free[env.intn(len(free))]
		if _, err := c.Reserve(t, t, until, ev, ch.ID, nil); err != nil {
			return err
		}
		return env.admit(t, c, ch, ev)
	}
	env.reject(t, ev, model.ErrNoAvailableCharger.Error())
	return nil
}
