package model

import "time"

// Reservation is one row of a cluster's reservation dataset. Its logical
// identity is (cluster id, ID). Cancelled rows stay in the dataset.
type Reservation struct {
	ID          int
	Active      bool
	VehicleID   string
	ChargerID   string
	ReservedAt  time.Time
	From        time.Time
	Until       time.Time
	CancelledAt time.Time

	Contract     *Contract
	ScheduledG2V float64 // kWh
	ScheduledV2G float64 // kWh
	Price        float64
}

// Overlaps reports whether the reservation window intersects [from, until).
func (r *Reservation) Overlaps(from, until time.Time) bool {
	return r.From.Before(until) && from.Before(r.Until)
}

// Cancelled reports whether the reservation was terminated.
func (r *Reservation) Cancelled() bool { return !r.CancelledAt.IsZero() }

// ConnectionRecord is one plug-in interval of a charger.
type ConnectionRecord struct {
	VehicleID    string
	Connected    time.Time
	Disconnected time.Time
	Open         bool
}

// Covers reports whether the record spans t.
func (c ConnectionRecord) Covers(t time.Time) bool {
	if t.Before(c.Connected) {
		return false
	}
	return c.Open || t.Before(c.Disconnected)
}

// ConnectionRow is one row of a cluster's connection dataset. It is written
// when the vehicle enters and completed when it leaves.
type ConnectionRow struct {
	VehicleID     string
	ArrivalTime   time.Time
	ArrivalSoC    float64
	ChargerID     string
	ReservationID int
	HasSchedule   bool
	ScheduledG2V  float64 // kWh
	ScheduledV2G  float64 // kWh
	Open          bool
	LeaveTime     time.Time
	LeaveSoC      float64
	NetG2V        float64 // kWh
	TotalV2G      float64 // kWh
}
