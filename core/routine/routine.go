// Package routine implements the per-step event routines of the simulation:
// departures, reservations and arrivals. Each routine processes the matching
// fleet bucket in vehicle id order.
package routine

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/model"
)

// ErrUnknownStrategy is returned for unregistered strategy or policy names.
var ErrUnknownStrategy = errors.New("unknown routine strategy")

// Stats counts the outcome of vehicle events over a run.
type Stats struct {
	Reserved   int
	Unreserved int
	Admitted   int
	Rejected   int
	Departed   int
	Migrated   int
}

// Env is the state shared by the routines of one run.
type Env struct {
	Station  *model.Station
	Fleet    *model.Fleet
	Forecast model.TrafficForecast
	Rand     *rand.Rand
	Log      logger.Logger
	Stats    Stats
}

// NewRand returns the seeded source used for every random pick of a run.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (e *Env) step() time.Duration { return e.Fleet.Grid.Step }

func (e *Env) log() logger.Logger { return logger.OrNop(e.Log) }

func (e *Env) intn(n int) int {
	if e.Rand == nil {
		return 0
	}
	return e.Rand.IntN(n)
}

// estimated returns the grid-snapped estimated stay of ev. A missing
// departure reads as the end of the horizon.
func (e *Env) estimated(ev *model.Vehicle) (arr, dep time.Time) {
	g := e.Fleet.Grid
	arr = g.Ceil(ev.EstimatedArrival)
	dep = g.End
	if !ev.EstimatedDeparture.IsZero() {
		dep = g.Ceil(ev.EstimatedDeparture)
	}
	return arr, dep
}

// window returns the reservation window of ev at cluster id, shifted by the
// cluster's forecast delays.
func (e *Env) window(ev *model.Vehicle, cluster string) (from, until time.Time) {
	arr, dep := e.estimated(ev)
	d := e.Forecast.For(cluster)
	return arr.Add(d.ArrivalDelay), dep.Add(d.DepartureDelay)
}

// departure returns the grid-snapped real departure of ev, at least one step
// after t.
func (e *Env) departure(ev *model.Vehicle, t time.Time) time.Time {
	until := e.Fleet.Grid.End
	if !ev.RealDeparture.IsZero() {
		until = e.Fleet.Grid.Ceil(ev.RealDeparture)
	}
	if !until.After(t) {
		until = t.Add(e.step())
	}
	return until
}

func (e *Env) admit(t time.Time, c *model.Cluster, ch *model.Charger, ev *model.Vehicle) error {
	ev.SoC.Set(t, ev.RealArrivalSoC)
	if err := ch.Connect(t, ev); err != nil {
		return err
	}
	if err := c.EnterDataOfIncomingVehicle(t, ev, ch.ID); err != nil {
		return err
	}
	ev.Admitted = true
	ev.Rejected = false
	e.Stats.Admitted++
	e.log().Debugw("vehicle admitted", map[string]any{
		"vehicle": ev.ID, "cluster": c.ID, "charger": ch.ID, "soc": ev.RealArrivalSoC, "at": t,
	})
	return nil
}

func (e *Env) reject(t time.Time, ev *model.Vehicle, reason string) {
	ev.Admitted = false
	ev.Rejected = true
	e.Stats.Rejected++
	e.log().Debugw("vehicle rejected", map[string]any{"vehicle": ev.ID, "reason": reason, "at": t})
}

// freeChargers lists the chargers of c other than skip that hold no vehicle
// and no reservation intersecting [from, until).
func freeChargers(c *model.Cluster, skip *model.Charger, from, until time.Time) []*model.Charger {
	var out []*model.Charger
	for _, ch := range c.Chargers() {
		if ch == skip || ch.Connected() || !ch.Free(from, until) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// Departure disconnects every admitted vehicle leaving at t, releases its
// reservation and closes its connection row.
func Departure(t time.Time, env *Env) error {
	for _, ev := range env.Fleet.OutgoingVehiclesAt(t) {
		if !ev.Admitted || ev.ConnectedCharger == "" {
			continue
		}
		c, ch, err := env.Station.FindCharger(ev.ConnectedCharger)
		if err != nil {
			return err
		}
		if err := ch.Disconnect(t); err != nil {
			return err
		}
		if ev.Reserved && ev.ReservedCluster == c.ID && ev.ReservationID >= 0 {
			if err := c.Unreserve(t, ev.ReservationID); err != nil {
				return err
			}
		}
		if err := c.EnterDataOfOutgoingVehicle(t, ev, env.step()); err != nil {
			return err
		}
		ch.ClearSchedule(ev.ID)
		env.Stats.Departed++
		soc, _ := ev.SoCAt(t)
		env.log().Debugw("vehicle departed", map[string]any{"vehicle": ev.ID, "cluster": c.ID, "charger": ch.ID, "soc": soc, "at": t})
	}
	return nil
}
