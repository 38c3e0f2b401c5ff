package model

import (
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/timeseries"
)

// Vehicle represents an electric vehicle visiting the station. Battery
// capacity and V2G allowance are kept in kWs so that SOC arithmetic needs no
// unit conversion.
type Vehicle struct {
	ID                string
	BatteryCapacity   float64 // kWs
	MaxChargePower    float64 // kW, vehicle side
	MaxDischargePower float64 // kW, vehicle side
	MinSoC            float64
	MaxSoC            float64
	PowerTable        PowerTable

	SoC *timeseries.Series
	G2V *timeseries.Series // kW
	V2G *timeseries.Series // kW

	Reserved         bool
	Admitted         bool
	Rejected         bool
	ReservedCluster  string
	ReservedCharger  string
	ReservationID    int
	ConnectedCharger string

	ReservationTime     time.Time
	EstimatedArrival    time.Time
	EstimatedDeparture  time.Time
	EstimatedArrivalSoC float64
	TargetSoC           float64
	V2GAllowance        float64 // kWs
	RealArrival         time.Time
	RealArrivalSoC      float64
	RealDeparture       time.Time
	TargetCluster       string
}

// NewVehicle returns a vehicle with a battery of capacityKWh and the full
// [0, 1] SOC window.
func NewVehicle(id string, capacityKWh, maxCharge, maxDischarge float64) *Vehicle {
	return &Vehicle{
		ID:                id,
		BatteryCapacity:   capacityKWh * 3600,
		MaxChargePower:    maxCharge,
		MaxDischargePower: maxDischarge,
		MinSoC:            0,
		MaxSoC:            1,
		ReservationID:     -1,
		SoC:               &timeseries.Series{},
		G2V:               &timeseries.Series{},
		V2G:               &timeseries.Series{},
	}
}

// Validate checks the static vehicle parameters.
func (v *Vehicle) Validate() error {
	if v.ID == "" {
		return invalid("vehicle without id")
	}
	if v.BatteryCapacity <= 0 {
		return invalid("vehicle %s: battery capacity must be positive", v.ID)
	}
	if v.MaxChargePower < 0 || v.MaxDischargePower < 0 {
		return invalid("vehicle %s: negative power rating", v.ID)
	}
	if v.MinSoC < 0 || v.MaxSoC > 1 || v.MinSoC > v.MaxSoC {
		return invalid("vehicle %s: soc window [%.3f, %.3f]", v.ID, v.MinSoC, v.MaxSoC)
	}
	if err := v.PowerTable.Validate(); err != nil {
		return fmt.Errorf("vehicle %s: %w", v.ID, err)
	}
	return nil
}

// SetPowerTable validates and installs an SOC dependent charging curve.
func (v *Vehicle) SetPowerTable(pt PowerTable) error {
	if err := pt.Validate(); err != nil {
		return fmt.Errorf("vehicle %s: %w", v.ID, err)
	}
	v.PowerTable = pt
	return nil
}

// BatteryKWh returns the capacity in kWh.
func (v *Vehicle) BatteryKWh() float64 { return v.BatteryCapacity / 3600 }

// SoCAt returns the last recorded SOC at or before t.
func (v *Vehicle) SoCAt(t time.Time) (float64, bool) {
	p, ok := v.SoC.AsOf(t)
	return p.V, ok
}

// ChargeLimit returns the vehicle side charge cap at the given SOC, taking the
// power table into account.
func (v *Vehicle) ChargeLimit(soc float64) float64 {
	limit := v.MaxChargePower
	if p, ok := v.PowerTable.MaxPower(soc); ok {
		limit = math.Min(limit, p)
	}
	return limit
}

// Charge integrates one step of power pIn (kW, positive into the vehicle).
// The vehicle must hold an SOC sample at t. SOC excursions are not clamped.
func (v *Vehicle) Charge(t time.Time, dt time.Duration, pIn float64) error {
	soc, ok := v.SoC.Get(t)
	if !ok {
		return fmt.Errorf("%w: vehicle %s has no soc at %s", ErrMissingConnection, v.ID, t.Format(time.RFC3339))
	}
	v.SoC.Set(t.Add(dt), soc+pIn*dt.Seconds()/v.BatteryCapacity)
	v.G2V.Set(t, math.Max(pIn, 0))
	v.V2G.Set(t, math.Max(-pIn, 0))
	return nil
}

// Energies returns the G2V and V2G energies in kWh recorded in [from, to)
// on a grid of the given step.
func (v *Vehicle) Energies(from, to time.Time, step time.Duration) (g2v, v2g float64) {
	h := step.Hours()
	return v.G2V.Sum(from, to) * h, v.V2G.Sum(from, to) * h
}

// ClearReservation drops the reservation back-references.
func (v *Vehicle) ClearReservation() {
	v.Reserved = false
	v.ReservedCluster = ""
	v.ReservedCharger = ""
	v.ReservationID = -1
}
