package workbook

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/scenario"
	"github.com/kilianp07/evstation/core/timeseries"
)

// Fleet sheet columns in the order they are written.
var fleetColumns = []string{
	"ev_id",
	"Battery Capacity (kWh)",
	"p_max_ch",
	"p_max_ds",
	"Reservation Time",
	"Estimated Arrival Time",
	"Estimated Departure Time",
	"Estimated Arrival SOC",
	"Target SOC @ Estimated Departure Time",
	"V2G Allowance (kWh)",
	"Real Arrival Time",
	"Real Arrival SOC",
	"Real Departure Time",
	"Target Cluster",
}

// LoadFleet reads the Fleet sheet at path into a fleet bucketed on grid.
func LoadFleet(path string, grid timeseries.Grid, loc *time.Location) (*model.Fleet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open fleet workbook: %w", err)
	}
	defer f.Close()
	rows, err := ReadFleetRows(f, loc)
	if err != nil {
		return nil, err
	}
	return model.NewFleet("fleet", grid, scenario.Vehicles(rows))
}

// ReadFleetRows reads the Fleet sheet of an open file.
func ReadFleetRows(f *excelize.File, loc *time.Location) ([]scenario.Row, error) {
	t, err := readTable(f, "Fleet", loc)
	if err != nil {
		return nil, err
	}
	if err := t.require("ev_id", "Battery Capacity (kWh)", "p_max_ch", "p_max_ds"); err != nil {
		return nil, err
	}
	out := make([]scenario.Row, 0, len(t.rows))
	for _, r := range t.rows {
		row := scenario.Row{ID: t.cell(r, "ev_id"), TargetCluster: t.cell(r, "Target Cluster")}
		nums := []struct {
			col string
			dst *float64
		}{
			{"Battery Capacity (kWh)", &row.Capacity},
			{"p_max_ch", &row.MaxCharge},
			{"p_max_ds", &row.MaxDischarge},
		}
		for _, n := range nums {
			if *n.dst, err = t.float(r, n.col); err != nil {
				return nil, err
			}
		}
		opt := []struct {
			col string
			dst *float64
		}{
			{"Estimated Arrival SOC", &row.EstimatedArrivalSoC},
			{"Target SOC @ Estimated Departure Time", &row.TargetSoC},
			{"V2G Allowance (kWh)", &row.V2GAllowance},
			{"Real Arrival SOC", &row.RealArrivalSoC},
		}
		for _, n := range opt {
			if *n.dst, err = t.floatOr(r, n.col, 0); err != nil {
				return nil, err
			}
		}
		times := []struct {
			col string
			dst *time.Time
		}{
			{"Reservation Time", &row.ReservationTime},
			{"Estimated Arrival Time", &row.EstimatedArrival},
			{"Estimated Departure Time", &row.EstimatedDeparture},
			{"Real Arrival Time", &row.RealArrival},
			{"Real Departure Time", &row.RealDeparture},
		}
		for _, n := range times {
			if *n.dst, err = t.time(r, n.col); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteFleetInput writes rows as the Fleet sheet of a new workbook at path.
func WriteFleetInput(path string, rows []scenario.Row) error {
	f := excelize.NewFile()
	defer f.Close()
	w, err := newSheet(f, "Fleet", true)
	if err != nil {
		return err
	}
	header := make([]any, len(fleetColumns))
	for i, c := range fleetColumns {
		header[i] = c
	}
	if err := w.add(header...); err != nil {
		return err
	}
	for _, r := range rows {
		err := w.add(r.ID, r.Capacity, r.MaxCharge, r.MaxDischarge,
			formatTime(r.ReservationTime), formatTime(r.EstimatedArrival), formatTime(r.EstimatedDeparture),
			r.EstimatedArrivalSoC, r.TargetSoC, r.V2GAllowance,
			formatTime(r.RealArrival), r.RealArrivalSoC, formatTime(r.RealDeparture), r.TargetCluster)
		if err != nil {
			return err
		}
	}
	if err := w.flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}
