package scenarios

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/evstation/core/factory"
	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/timeseries"
)

// Origin is hour zero of every scenario.
var Origin = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func hour(h float64) time.Time { return Origin.Add(time.Duration(h * float64(time.Hour))) }

type ChargerDef struct {
	ID           string  `yaml:"id"`
	MaxCharge    float64 `yaml:"max_charge"`
	MaxDischarge float64 `yaml:"max_discharge"`
	Efficiency   float64 `yaml:"efficiency"`
}

type ClusterDef struct {
	ID        string       `yaml:"id"`
	Tolerance float64      `yaml:"tolerance"`
	Upper     *float64     `yaml:"upper_kw,omitempty"`
	Chargers  []ChargerDef `yaml:"chargers"`
}

type VehicleDef struct {
	ID           string  `yaml:"id"`
	BatteryKWh   float64 `yaml:"battery_kwh"`
	MaxCharge    float64 `yaml:"max_charge"`
	MaxDischarge float64 `yaml:"max_discharge"`
	ReserveAt    float64 `yaml:"reservation_h"`
	Arrival      float64 `yaml:"arrival_h"`
	Departure    float64 `yaml:"departure_h"`
	SoC          float64 `yaml:"soc"`
	TargetSoC    float64 `yaml:"target_soc"`
	Cluster      string  `yaml:"cluster,omitempty"`
}

func (v VehicleDef) ToModel() *model.Vehicle {
	ev := model.NewVehicle(v.ID, v.BatteryKWh, v.MaxCharge, v.MaxDischarge)
	ev.ReservationTime = hour(v.ReserveAt)
	ev.EstimatedArrival, ev.RealArrival = hour(v.Arrival), hour(v.Arrival)
	ev.EstimatedDeparture, ev.RealDeparture = hour(v.Departure), hour(v.Departure)
	ev.EstimatedArrivalSoC, ev.RealArrivalSoC = v.SoC, v.SoC
	ev.TargetSoC = v.TargetSoC
	ev.TargetCluster = v.Cluster
	return ev
}

// Expected holds the checked outcomes. Nil entries are not checked.
type Expected struct {
	Reserved       *int     `yaml:"reserved,omitempty"`
	Admitted       *int     `yaml:"admitted,omitempty"`
	Rejected       *int     `yaml:"rejected,omitempty"`
	Departed       *int     `yaml:"departed,omitempty"`
	NetConsumption *float64 `yaml:"net_consumption_kwh,omitempty"`
}

type Scenario struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	StepMin     float64              `yaml:"step_min"`
	Hours       float64              `yaml:"hours"`
	Seed        uint64               `yaml:"seed"`
	Policy      string               `yaml:"policy"`
	Strategy    string               `yaml:"strategy,omitempty"`
	Controller  factory.ModuleConfig `yaml:"controller"`
	Clusters    []ClusterDef         `yaml:"clusters"`
	Vehicles    []VehicleDef         `yaml:"vehicles"`
	Expected    Expected             `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" || sc.StepMin <= 0 || sc.Hours <= 0 {
		return nil, fmt.Errorf("%s: name, step_min and hours are required", path)
	}
	return &sc, nil
}

// Build returns the station and fleet of the scenario.
func (sc *Scenario) Build() (*model.Station, *model.Fleet, error) {
	grid, err := timeseries.NewGrid(Origin, hour(sc.Hours), time.Duration(sc.StepMin*float64(time.Minute)))
	if err != nil {
		return nil, nil, err
	}
	st := model.NewStation(sc.Name)
	for _, cd := range sc.Clusters {
		chargers := make([]*model.Charger, 0, len(cd.Chargers))
		for _, ch := range cd.Chargers {
			eff := ch.Efficiency
			if eff == 0 {
				eff = 1
			}
			c, err := model.NewCharger(ch.ID, ch.MaxCharge, ch.MaxDischarge, eff)
			if err != nil {
				return nil, nil, err
			}
			chargers = append(chargers, c)
		}
		c, err := model.NewCluster(cd.ID, cd.Tolerance, chargers...)
		if err != nil {
			return nil, nil, err
		}
		if err := st.AddCluster(c); err != nil {
			return nil, nil, err
		}
		if cd.Upper != nil {
			limits := []model.LimitEntry{{T: Origin, LB: math.Inf(-1), UB: *cd.Upper}}
			if err := c.EnterPowerLimits(grid.Start, grid.End, grid.Step, limits); err != nil {
				return nil, nil, err
			}
		}
	}
	vehicles := make([]*model.Vehicle, len(sc.Vehicles))
	for i, v := range sc.Vehicles {
		vehicles[i] = v.ToModel()
	}
	fleet, err := model.NewFleet("fleet", grid, vehicles)
	if err != nil {
		return nil, nil, err
	}
	return st, fleet, nil
}
