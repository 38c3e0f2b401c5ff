package model

import (
	"math"
	"time"
)

// Schedule is a power and SOC trajectory on a fixed step. Power[i] and SoC[i]
// apply at Start + i*Step; power is signed at the vehicle side.
type Schedule struct {
	Start time.Time
	Step  time.Duration
	Power []float64
	SoC   []float64
}

// Len returns the number of steps.
func (s Schedule) Len() int { return len(s.Power) }

// End returns the first instant after the schedule.
func (s Schedule) End() time.Time {
	return s.Start.Add(time.Duration(len(s.Power)) * s.Step)
}

// Index returns the step index of t.
func (s Schedule) Index(t time.Time) (int, bool) {
	if s.Step <= 0 || t.Before(s.Start) {
		return 0, false
	}
	i := int(t.Sub(s.Start) / s.Step)
	if i >= len(s.Power) {
		return i, false
	}
	return i, true
}

// PowerAt returns the scheduled power at t, zero outside the schedule.
func (s Schedule) PowerAt(t time.Time) float64 {
	if i, ok := s.Index(t); ok {
		return s.Power[i]
	}
	return 0
}

// SoCAt returns the scheduled SOC at t. Instants past the end take the final
// value and instants before the start take the first one.
func (s Schedule) SoCAt(t time.Time) (float64, bool) {
	if len(s.SoC) == 0 {
		return 0, false
	}
	if t.Before(s.Start) {
		return s.SoC[0], true
	}
	i := int(t.Sub(s.Start) / s.Step)
	if i >= len(s.SoC) {
		i = len(s.SoC) - 1
	}
	return s.SoC[i], true
}

// Energies returns the scheduled G2V and V2G energies in kWh.
func (s Schedule) Energies() (g2v, v2g float64) {
	h := s.Step.Hours()
	for _, p := range s.Power {
		g2v += math.Max(p, 0) * h
		v2g += math.Max(-p, 0) * h
	}
	return g2v, v2g
}

// ScheduleInstance is a schedule stored on a charger at a given instant for
// the vehicle Owner.
type ScheduleInstance struct {
	SetAt    time.Time
	Owner    string
	Schedule Schedule
	Active   bool
}

// Contract is a schedule agreed at reservation time, with the G2V and V2G
// prices (per kWh) applying to each of its steps.
type Contract struct {
	Schedule Schedule
	G2VPrice []float64
	V2GPrice []float64
}

// Price returns the agreed price of the contract: the G2V energy valued at
// the G2V price plus the V2G energy valued at the V2G price.
func (c Contract) Price() float64 {
	h := c.Schedule.Step.Hours()
	var total float64
	for i, p := range c.Schedule.Power {
		if p > 0 && i < len(c.G2VPrice) {
			total += p * c.G2VPrice[i] * h
		}
		if p < 0 && i < len(c.V2GPrice) {
			total += -p * c.V2GPrice[i] * h
		}
	}
	return total
}
