package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScenario indicates input tables violating a documented precondition.
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrDoubleConnection is returned when connecting to an occupied charger.
	ErrDoubleConnection = errors.New("charger already connected")
	// ErrMissingConnection is returned when a charger operation needs a connected vehicle.
	ErrMissingConnection = errors.New("no vehicle connected")
	// ErrReservationOverlap is returned when a reservation would overlap an active one.
	ErrReservationOverlap = errors.New("reservation overlap")
	// ErrNoAvailableCharger marks an arriving vehicle that could not be admitted.
	ErrNoAvailableCharger = errors.New("no available charger")
	// ErrUnknownVehicle is returned for lookups of an id absent from the fleet.
	ErrUnknownVehicle = errors.New("unknown vehicle")
	// ErrUnknownCharger is returned for lookups of an id absent from a cluster.
	ErrUnknownCharger = errors.New("unknown charger")
	// ErrUnknownCluster is returned for lookups of an id absent from the station.
	ErrUnknownCluster = errors.New("unknown cluster")
	// ErrUnknownReservation is returned for reservation ids never issued by a cluster.
	ErrUnknownReservation = errors.New("unknown reservation")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidScenario, fmt.Sprintf(format, args...))
}
