package workbook

import (
	"fmt"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/timeseries"
)

// StationOptions selects what LoadStation reads.
type StationOptions struct {
	ID string
	// Clusters lists the sheet indexes i of the Cluster<i> sheets to load.
	Clusters []int
	// Tolerance is the violation tolerance in kW per cluster id.
	Tolerance map[string]float64
	Location  *time.Location
}

// ClusterID names the cluster loaded from sheet index i.
func ClusterID(i int) string { return fmt.Sprintf("C%d", i) }

// LoadStation builds the station from the workbook at path and resamples its
// capacity and price tables onto grid.
func LoadStation(path string, opts StationOptions, grid timeseries.Grid) (*model.Station, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open station workbook: %w", err)
	}
	defer f.Close()
	return ReadStation(f, opts, grid)
}

// ReadStation is LoadStation on an open file.
func ReadStation(f *excelize.File, opts StationOptions, grid timeseries.Grid) (*model.Station, error) {
	if len(opts.Clusters) == 0 {
		return nil, invalid("no cluster sheet selected")
	}
	id := opts.ID
	if id == "" {
		id = "station"
	}
	st := model.NewStation(id)
	for _, i := range opts.Clusters {
		c, err := readCluster(f, i, opts, grid)
		if err != nil {
			return nil, err
		}
		if err := st.AddCluster(c); err != nil {
			return nil, err
		}
	}

	if hasSheet(f, "Capacity") {
		limits, err := readLimits(f, "Capacity", opts.Location)
		if err != nil {
			return nil, err
		}
		if err := st.EnterPowerLimits(grid.Start, grid.End, grid.Step, limits); err != nil {
			return nil, err
		}
	}
	prices, err := readPrices(f, opts.Location)
	if err != nil {
		return nil, err
	}
	if err := st.EnterTOUPrice(grid.Start, grid.End, grid.Step, prices); err != nil {
		return nil, err
	}
	return st, nil
}

func readCluster(f *excelize.File, i int, opts StationOptions, grid timeseries.Grid) (*model.Cluster, error) {
	t, err := readTable(f, fmt.Sprintf("Cluster%d", i), opts.Location)
	if err != nil {
		return nil, err
	}
	if err := t.require("cu_id", "cu_p_ch_max", "cu_p_ds_max"); err != nil {
		return nil, err
	}
	chargers := make([]*model.Charger, 0, len(t.rows))
	for _, r := range t.rows {
		ch, err := t.float(r, "cu_p_ch_max")
		if err != nil {
			return nil, err
		}
		ds, err := t.float(r, "cu_p_ds_max")
		if err != nil {
			return nil, err
		}
		eff, err := t.floatOr(r, "cu_eff", 1)
		if err != nil {
			return nil, err
		}
		cu, err := model.NewCharger(t.cell(r, "cu_id"), ch, ds, eff)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", t.sheet, err)
		}
		chargers = append(chargers, cu)
	}
	id := ClusterID(i)
	c, err := model.NewCluster(id, opts.Tolerance[id], chargers...)
	if err != nil {
		return nil, err
	}
	capSheet := fmt.Sprintf("Capacity%d", i)
	if hasSheet(f, capSheet) {
		limits, err := readLimits(f, capSheet, opts.Location)
		if err != nil {
			return nil, err
		}
		if err := c.EnterPowerLimits(grid.Start, grid.End, grid.Step, limits); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// readLimits reads a TimeStep, LB, UB table. Empty bounds are unconstrained.
func readLimits(f *excelize.File, sheet string, loc *time.Location) ([]model.LimitEntry, error) {
	t, err := readTable(f, sheet, loc)
	if err != nil {
		return nil, err
	}
	if err := t.require("TimeStep", "LB", "UB"); err != nil {
		return nil, err
	}
	out := make([]model.LimitEntry, 0, len(t.rows))
	for _, r := range t.rows {
		ts, err := t.time(r, "TimeStep")
		if err != nil {
			return nil, err
		}
		if ts.IsZero() {
			return nil, invalid("sheet %s: empty TimeStep", sheet)
		}
		lb, err := t.floatOr(r, "LB", math.Inf(-1))
		if err != nil {
			return nil, err
		}
		ub, err := t.floatOr(r, "UB", math.Inf(1))
		if err != nil {
			return nil, err
		}
		out = append(out, model.LimitEntry{T: ts, LB: lb, UB: ub})
	}
	return out, nil
}

func readPrices(f *excelize.File, loc *time.Location) ([]timeseries.Point, error) {
	t, err := readTable(f, "Price", loc)
	if err != nil {
		return nil, err
	}
	col, ok := t.column("Price")
	if err := t.require("TimeStep"); err != nil || !ok {
		return nil, invalid("sheet Price needs TimeStep and Price columns")
	}
	out := make([]timeseries.Point, 0, len(t.rows))
	for _, r := range t.rows {
		ts, err := t.time(r, "TimeStep")
		if err != nil {
			return nil, err
		}
		v, err := t.float(r, col)
		if err != nil {
			return nil, err
		}
		out = append(out, timeseries.Point{T: ts, V: v})
	}
	return out, nil
}
