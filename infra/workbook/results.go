package workbook

import (
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/timeseries"
)

// Result sheet names.
const (
	SheetConnections      = "Connection Dataset"
	SheetConsumptionUnits = "Consumption (Units)"
	SheetConsumptionAgg   = "Consumption (Aggregate)"
	SheetOccupationUnits  = "Occupation (Units)"
	SheetOccupationAgg    = "Occupation (Aggregate)"
	SheetOverall          = "Overall"

	SheetSoC      = "SOC"
	SheetG2V      = "G2V"
	SheetV2G      = "V2G"
	SheetAdmitted = "Admitted"
)

// WriteClusters writes the clusters workbook of a finished run.
func WriteClusters(path string, st *model.Station, grid timeseries.Grid) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := writeConnections(f, st); err != nil {
		return err
	}
	times := grid.Times()
	clusters := st.Clusters()

	var chargerIDs []string
	unitPower := make(map[string][]float64)
	unitOcc := make(map[string][]int)
	aggPower := make(map[string][]float64)
	aggOcc := make(map[string][]int)
	for _, c := range clusters {
		up, ap := c.ConsumptionProfile(grid.Start, grid.End, grid.Step)
		uo, ao := c.OccupationProfile(grid.Start, grid.End, grid.Step)
		for _, ch := range c.Chargers() {
			chargerIDs = append(chargerIDs, ch.ID)
			unitPower[ch.ID] = up[ch.ID]
			unitOcc[ch.ID] = uo[ch.ID]
		}
		aggPower[c.ID], aggOcc[c.ID] = ap, ao
	}
	clusterIDs := make([]string, len(clusters))
	for i, c := range clusters {
		clusterIDs[i] = c.ID
	}

	if err := writeGrid(f, SheetConsumptionUnits, false, times, chargerIDs, func(col string, i int) any { return unitPower[col][i] }); err != nil {
		return err
	}
	if err := writeGrid(f, SheetConsumptionAgg, false, times, clusterIDs, func(col string, i int) any { return aggPower[col][i] }); err != nil {
		return err
	}
	if err := writeGrid(f, SheetOccupationUnits, false, times, chargerIDs, func(col string, i int) any { return unitOcc[col][i] }); err != nil {
		return err
	}
	if err := writeGrid(f, SheetOccupationAgg, false, times, clusterIDs, func(col string, i int) any { return aggOcc[col][i] }); err != nil {
		return err
	}
	if err := writeOverall(f, st.Overall(grid.Start, grid.End, grid.Step)); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeConnections(f *excelize.File, st *model.Station) error {
	w, err := newSheet(f, SheetConnections, true)
	if err != nil {
		return err
	}
	err = w.add("Cluster", "EV ID", "Arrival Time", "Arrival SOC", "Charger", "Reservation ID",
		"Scheduled", "Scheduled G2V (kWh)", "Scheduled V2G (kWh)",
		"Leave Time", "Leave SOC", "Net G2V (kWh)", "Total V2G (kWh)")
	if err != nil {
		return err
	}
	for _, r := range st.ConnectionDataset() {
		var leaveSoC any = r.LeaveSoC
		if r.Open {
			leaveSoC = nil
		}
		err := w.add(r.Cluster, r.VehicleID, formatTime(r.ArrivalTime), r.ArrivalSoC, r.ChargerID, r.ReservationID,
			r.HasSchedule, r.ScheduledG2V, r.ScheduledV2G,
			formatTime(r.LeaveTime), leaveSoC, r.NetG2V, r.TotalV2G)
		if err != nil {
			return err
		}
	}
	return w.flush()
}

func writeOverall(f *excelize.File, rows []model.ClusterTotals) error {
	w, err := newSheet(f, SheetOverall, false)
	if err != nil {
		return err
	}
	err = w.add("Cluster", "Net Consumption (kWh)", "Net G2V (kWh)", "Total V2G (kWh)",
		"Unfulfilled G2V (kWh)", "Unscheduled V2G (kWh)")
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.add(r.Cluster, r.NetConsumption, r.NetG2V, r.TotalV2G, r.UnfulfilledG2V, r.UnscheduledV2G); err != nil {
			return err
		}
	}
	return w.flush()
}

// writeGrid writes one row per grid instant and one column per id.
func writeGrid(f *excelize.File, sheet string, first bool, times []time.Time, ids []string, value func(id string, i int) any) error {
	w, err := newSheet(f, sheet, first)
	if err != nil {
		return err
	}
	header := make([]any, 0, len(ids)+1)
	header = append(header, "TimeStep")
	for _, id := range ids {
		header = append(header, id)
	}
	if err := w.add(header...); err != nil {
		return err
	}
	for i, t := range times {
		row := make([]any, 0, len(ids)+1)
		row = append(row, formatTime(t))
		for _, id := range ids {
			row = append(row, value(id, i))
		}
		if err := w.add(row...); err != nil {
			return err
		}
	}
	return w.flush()
}

// WriteFleetResults writes the per-vehicle SOC, G2V, V2G and admitted sheets.
func WriteFleetResults(path string, fleet *model.Fleet, grid timeseries.Grid) error {
	f := excelize.NewFile()
	defer f.Close()
	vehicles := fleet.Vehicles()
	ids := make([]string, len(vehicles))
	byID := make(map[string]*model.Vehicle, len(vehicles))
	for i, v := range vehicles {
		ids[i] = v.ID
		byID[v.ID] = v
	}
	times := grid.Times()

	if err := writeGrid(f, SheetSoC, true, times, ids, func(id string, i int) any {
		if s, ok := byID[id].SoC.Get(times[i]); ok {
			return s
		}
		return nil
	}); err != nil {
		return err
	}
	if err := writeGrid(f, SheetG2V, false, times, ids, func(id string, i int) any { return byID[id].G2V.ValueOr(times[i], 0) }); err != nil {
		return err
	}
	if err := writeGrid(f, SheetV2G, false, times, ids, func(id string, i int) any { return byID[id].V2G.ValueOr(times[i], 0) }); err != nil {
		return err
	}
	if err := writeGrid(f, SheetAdmitted, false, times, ids, func(id string, i int) any {
		if present(byID[id], grid, times[i]) {
			return 1
		}
		return 0
	}); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// present reports whether an admitted vehicle is plugged in at t.
func present(v *model.Vehicle, grid timeseries.Grid, t time.Time) bool {
	if !v.Admitted || v.RealArrival.IsZero() {
		return false
	}
	if t.Before(grid.Ceil(v.RealArrival)) {
		return false
	}
	return v.RealDeparture.IsZero() || t.Before(grid.Ceil(v.RealDeparture))
}
