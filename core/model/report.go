package model

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

// ClusterTotals is one row of the overall report. Energies are in kWh.
type ClusterTotals struct {
	Cluster        string
	NetConsumption float64
	NetG2V         float64
	TotalV2G       float64
	UnfulfilledG2V float64
	UnscheduledV2G float64
}

// Totals summarises the cluster over [start, end). Only closed connection
// rows contribute realised energies.
func (c *Cluster) Totals(start, end time.Time, step time.Duration) ClusterTotals {
	_, agg := c.ConsumptionProfile(start, end, step)
	out := ClusterTotals{Cluster: c.ID, NetConsumption: floats.Sum(agg) * step.Hours()}
	var schedG2V, schedV2G float64
	for _, row := range c.Connections {
		if row.Open {
			continue
		}
		out.NetG2V += row.NetG2V
		out.TotalV2G += row.TotalV2G
		schedG2V += row.ScheduledG2V
		schedV2G += row.ScheduledV2G
	}
	out.UnfulfilledG2V = math.Max(schedG2V-out.NetG2V, 0)
	out.UnscheduledV2G = math.Max(out.TotalV2G-schedV2G, 0)
	return out
}

// Overall returns one row per cluster followed by a grand total row named
// "Total".
func (s *Station) Overall(start, end time.Time, step time.Duration) []ClusterTotals {
	var rows []ClusterTotals
	total := ClusterTotals{Cluster: "Total"}
	for _, c := range s.Clusters() {
		row := c.Totals(start, end, step)
		rows = append(rows, row)
		total.NetConsumption += row.NetConsumption
		total.NetG2V += row.NetG2V
		total.TotalV2G += row.TotalV2G
		total.UnfulfilledG2V += row.UnfulfilledG2V
		total.UnscheduledV2G += row.UnscheduledV2G
	}
	return append(rows, total)
}

// ConnectionDataset merges the connection rows of every cluster sorted by
// arrival time, ties broken by cluster then vehicle id.
func (s *Station) ConnectionDataset() []ClusterConnection {
	var out []ClusterConnection
	for _, c := range s.Clusters() {
		for _, row := range c.Connections {
			out = append(out, ClusterConnection{Cluster: c.ID, ConnectionRow: row})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ArrivalTime.Equal(b.ArrivalTime) {
			return a.ArrivalTime.Before(b.ArrivalTime)
		}
		if a.Cluster != b.Cluster {
			return a.Cluster < b.Cluster
		}
		return a.VehicleID < b.VehicleID
	})
	return out
}

// ClusterConnection is a connection row tagged with its cluster.
type ClusterConnection struct {
	Cluster string
	ConnectionRow
}
