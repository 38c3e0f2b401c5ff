package config

import (
	"errors"
	"fmt"

	"github.com/kilianp07/evstation/core/scenario"
)

// Generator modes.
const (
	ModeIndependent = "independent"
	ModeConditional = "conditional"
)

// GeneratorConfig drives the scenario generator. The horizon is the one of
// the simulation section.
type GeneratorConfig struct {
	Input             string   `json:"inputs_workbook"`
	Output            string   `json:"output_workbook"`
	Mode              string   `json:"mode"`
	VehiclesPerDay    int      `json:"vehicles_per_day"`
	MinStayMin        float64  `json:"diff_arr_dep_in_min"`
	SameDay           float64  `json:"same_day_departure_probability"`
	ReservationLead   float64  `json:"reservation_lead_in_min"`
	V2GAllowanceRatio float64  `json:"v2g_allowance_ratio"`
	Clusters          []string `json:"clusters"`
	Seed              uint64   `json:"seed"`
	MaxAttempts       int      `json:"max_attempts"`
}

func (c *GeneratorConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeIndependent
	}
	if c.Output == "" {
		c.Output = "fleet.xlsx"
	}
}

func (c GeneratorConfig) Validate() error {
	if c.Input == "" {
		return errors.New("generator: inputs_workbook is required")
	}
	if c.Mode != ModeIndependent && c.Mode != ModeConditional {
		return fmt.Errorf("generator: unknown mode %q", c.Mode)
	}
	if c.VehiclesPerDay <= 0 {
		return errors.New("generator: vehicles_per_day must be positive")
	}
	if c.MinStayMin < 0 || c.ReservationLead < 0 {
		return errors.New("generator: durations must not be negative")
	}
	return nil
}

// Options builds the generator options over the simulation horizon.
func (c GeneratorConfig) Options(sim SimulationConfig) (scenario.Options, error) {
	g, err := sim.Grid()
	if err != nil {
		return scenario.Options{}, err
	}
	return scenario.Options{
		Start:              g.Start,
		End:                g.End,
		VehiclesPerDay:     c.VehiclesPerDay,
		MinStay:            minutes(c.MinStayMin),
		SameDayProbability: c.SameDay,
		ReservationLead:    minutes(c.ReservationLead),
		V2GAllowanceRatio:  c.V2GAllowanceRatio,
		Clusters:           c.Clusters,
		Seed:               c.Seed,
		MaxAttempts:        c.MaxAttempts,
	}, nil
}
