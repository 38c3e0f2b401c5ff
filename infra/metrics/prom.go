package metrics

import (
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/evstation/core/metrics"
)

// PromSink exposes simulation progress as Prometheus metrics.
type PromSink struct {
	power     *prometheus.GaugeVec
	bounds    *prometheus.GaugeVec
	connected *prometheus.GaugeVec
	events    *prometheus.CounterVec
	solves    *prometheus.HistogramVec
	runs      *prometheus.GaugeVec

	gatherer prometheus.Gatherer
	textfile string
}

// NewPromSink registers the simulation metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evs_cluster_grid_power_kw",
			Help: "Grid-side consumption of a cluster at the last simulated step",
		}, []string{"run", "cluster"}),
		bounds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evs_cluster_power_limit_kw",
			Help: "Finite power envelope of a cluster at the last simulated step",
		}, []string{"run", "cluster", "bound"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evs_cluster_connected_vehicles",
			Help: "Number of vehicles connected to a cluster",
		}, []string{"run", "cluster"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evs_vehicle_events_total",
			Help: "Reservations, admissions, rejections, departures and migrations",
		}, []string{"run", "kind"}),
		solves: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evs_solver_duration_seconds",
			Help:    "Wall time of optimisation calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"problem", "status"}),
		runs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evs_run_vehicles",
			Help: "Vehicle totals of a finished run",
		}, []string{"run", "outcome"}),
	}
	var err error
	if s.power, err = register(reg, s.power); err != nil {
		return nil, err
	}
	if s.bounds, err = register(reg, s.bounds); err != nil {
		return nil, err
	}
	if s.connected, err = register(reg, s.connected); err != nil {
		return nil, err
	}
	if s.events, err = register(reg, s.events); err != nil {
		return nil, err
	}
	if s.solves, err = register(reg, s.solves); err != nil {
		return nil, err
	}
	if s.runs, err = register(reg, s.runs); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the collector already registered under the same
// descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// WithTextfile makes RecordRun dump g to path in the text exposition format.
func (s *PromSink) WithTextfile(path string, g prometheus.Gatherer) *PromSink {
	s.textfile, s.gatherer = path, g
	return s
}

// RecordStep sets the cluster gauges.
func (s *PromSink) RecordStep(samples []coremetrics.ClusterSample) error {
	for _, c := range samples {
		s.power.WithLabelValues(c.Run, c.Cluster).Set(c.GridPower)
		s.connected.WithLabelValues(c.Run, c.Cluster).Set(float64(c.Connected))
		if !math.IsInf(c.Lower, 0) {
			s.bounds.WithLabelValues(c.Run, c.Cluster, "lower").Set(c.Lower)
		}
		if !math.IsInf(c.Upper, 0) {
			s.bounds.WithLabelValues(c.Run, c.Cluster, "upper").Set(c.Upper)
		}
	}
	return nil
}

// RecordVehicleEvent adds the event count.
func (s *PromSink) RecordVehicleEvent(ev coremetrics.VehicleEvent) error {
	if ev.Count > 0 {
		s.events.WithLabelValues(ev.Run, ev.Kind).Add(float64(ev.Count))
	}
	return nil
}

// RecordSolve observes the solver latency.
func (s *PromSink) RecordSolve(ev coremetrics.SolveEvent) error {
	s.solves.WithLabelValues(ev.Problem, ev.Status).Observe(ev.Duration.Seconds())
	return nil
}

// RecordRun sets the run totals and writes the textfile when configured.
func (s *PromSink) RecordRun(r coremetrics.RunSummary) error {
	s.runs.WithLabelValues(r.Run, "admitted").Set(float64(r.Admitted))
	s.runs.WithLabelValues(r.Run, "rejected").Set(float64(r.Rejected))
	s.runs.WithLabelValues(r.Run, "reserved").Set(float64(r.Reserved))
	if s.textfile == "" || s.gatherer == nil {
		return nil
	}
	return prometheus.WriteToTextfile(s.textfile, s.gatherer)
}
