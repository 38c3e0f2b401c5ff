package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/evstation/core/timeseries"
)

// Deviation is the traffic forecast of one cluster: expected arrival and
// departure delays and the SOC lost on the way.
type Deviation struct {
	ArrivalDelay   time.Duration
	DepartureDelay time.Duration
	SoCDecrement   float64
}

// TrafficForecast maps cluster id to its deviation. Missing clusters have
// no deviation.
type TrafficForecast map[string]Deviation

// For returns the deviation of cluster id.
func (f TrafficForecast) For(id string) Deviation {
	if f == nil {
		return Deviation{}
	}
	return f[id]
}

// Station is the multi-cluster station: clusters ordered by id, a station
// wide envelope and a time-of-use tariff.
type Station struct {
	ID string
	Envelope
	TOU *timeseries.Series // currency per kWh

	clusters map[string]*Cluster
	order    []string
	chargers map[string]string // charger id -> cluster id
}

// NewStation returns an empty station.
func NewStation(id string) *Station {
	return &Station{
		ID:       id,
		Envelope: newEnvelope(),
		TOU:      &timeseries.Series{},
		clusters: make(map[string]*Cluster),
		chargers: make(map[string]string),
	}
}

// AddCluster registers c and sets its back-reference. Cluster ids and
// charger ids must be unique within the station.
func (s *Station) AddCluster(c *Cluster) error {
	if _, dup := s.clusters[c.ID]; dup {
		return invalid("station %s: duplicate cluster id %s", s.ID, c.ID)
	}
	for _, ch := range c.Chargers() {
		if owner, dup := s.chargers[ch.ID]; dup {
			return invalid("station %s: charger id %s used by clusters %s and %s", s.ID, ch.ID, owner, c.ID)
		}
	}
	for _, ch := range c.Chargers() {
		s.chargers[ch.ID] = c.ID
	}
	c.station = s
	s.clusters[c.ID] = c
	s.order = append(s.order, c.ID)
	sort.Strings(s.order)
	return nil
}

// Cluster looks up a cluster by id.
func (s *Station) Cluster(id string) (*Cluster, error) {
	c, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, id)
	}
	return c, nil
}

// Clusters returns the clusters ordered by id.
func (s *Station) Clusters() []*Cluster {
	out := make([]*Cluster, len(s.order))
	for i, id := range s.order {
		out[i] = s.clusters[id]
	}
	return out
}

// FindCharger resolves a charger id to its cluster and charger.
func (s *Station) FindCharger(id string) (*Cluster, *Charger, error) {
	cid, ok := s.chargers[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownCharger, id)
	}
	c := s.clusters[cid]
	ch, err := c.Charger(id)
	return c, ch, err
}

// EnterTOUPrice resamples a price table onto the simulation grid.
func (s *Station) EnterTOUPrice(start, end time.Time, step time.Duration, table []timeseries.Point) error {
	if !timeseries.Monotone(table) {
		return invalid("station %s: price table time index is not strictly increasing", s.ID)
	}
	s.TOU = timeseries.Resample(table, start, end, step, 0)
	return nil
}

// TOUAt returns the tariff at t, zero when no tariff was entered.
func (s *Station) TOUAt(t time.Time) float64 { return boundAt(s.TOU, t, 0) }

// TOUPrices samples the tariff on [start, end).
func (s *Station) TOUPrices(start, end time.Time, step time.Duration) []float64 {
	var out []float64
	for _, t := range timeseries.Range(start, end, step) {
		out = append(out, s.TOUAt(t))
	}
	return out
}

// EnterPowerLimits resamples the station envelope onto the simulation grid.
func (s *Station) EnterPowerLimits(start, end time.Time, step time.Duration, table []LimitEntry) error {
	if err := s.Envelope.enter(start, end, step, table); err != nil {
		return fmt.Errorf("station %s: %w", s.ID, err)
	}
	return nil
}

// QueryAvailability asks every cluster for chargers free over [start, end)
// shifted by that cluster's forecast delays.
func (s *Station) QueryAvailability(start, end time.Time, step time.Duration, forecast TrafficForecast) []AvailableCharger {
	var out []AvailableCharger
	for _, c := range s.Clusters() {
		d := forecast.For(c.ID)
		out = append(out, c.QueryAvailability(start.Add(d.ArrivalDelay), end.Add(d.DepartureDelay), step)...)
	}
	return out
}

// QueryActualSchedules returns every cluster's schedule table keyed by
// cluster id.
func (s *Station) QueryActualSchedules(start, end time.Time, step time.Duration) map[string]map[string][]float64 {
	out := make(map[string]map[string][]float64, len(s.clusters))
	for _, c := range s.Clusters() {
		out[c.ID] = c.QueryActualSchedules(start, end, step)
	}
	return out
}

// UncontrolledSupply charges every connected vehicle as fast as allowed.
func (s *Station) UncontrolledSupply(t time.Time, dt time.Duration) error {
	for _, c := range s.Clusters() {
		if err := c.UncontrolledSupply(t, dt); err != nil {
			return err
		}
	}
	return nil
}

// GridPowerAt sums the clusters' consumed power at t.
func (s *Station) GridPowerAt(t time.Time) float64 {
	var total float64
	for _, c := range s.Clusters() {
		total += c.GridPowerAt(t)
	}
	return total
}

// ConnectedVehicles counts the vehicles plugged in across the station.
func (s *Station) ConnectedVehicles() int {
	n := 0
	for _, c := range s.clusters {
		n += c.NumberOfConnectedChargers()
	}
	return n
}
