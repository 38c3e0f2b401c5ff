// Package scenario generates synthetic fleets from probability tables of
// arrival and departure times, SOC levels and vehicle models. Every draw
// comes from one seeded source, so equal inputs and seeds give equal fleets.
package scenario

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/evstation/core/model"
)

var (
	// ErrInvalidInput is returned for inconsistent probability tables.
	ErrInvalidInput = errors.New("invalid generator input")
	// ErrExhausted is returned when rejection sampling gives up.
	ErrExhausted = errors.New("rejection sampling exhausted")
)

// EVModel is one row of the EVData table.
type EVModel struct {
	Name         string
	Capacity     float64 // kWh
	MaxCharge    float64 // kW
	MaxDischarge float64 // kW
	Share        float64
}

// TimeBin is a time-of-day interval [Start, End).
type TimeBin struct {
	ID    string
	Start time.Duration
	End   time.Duration
}

// SoCBin is an SOC interval [Lower, Upper].
type SoCBin struct {
	ID    string
	Lower float64
	Upper float64
}

// TimePDF weighs time bins separately for weekdays and weekends.
type TimePDF struct {
	Bins    []TimeBin
	Weekday []float64
	Weekend []float64
}

// SoCPDF weighs SOC bins.
type SoCPDF struct {
	Bins []SoCBin
	Prob []float64
}

// Independent holds the tables of the independent mode.
type Independent struct {
	Arrival      TimePDF
	Departure    TimePDF
	ArrivalSoC   SoCPDF
	DepartureSoC SoCPDF
	Models       []EVModel
}

// Conditional holds the joint tables of the conditional mode.
// TimeJoint[i][j] weighs arrival bin i with departure bin j, SoCJoint the
// same for arrival and departure SOC bins.
type Conditional struct {
	TimeBins  []TimeBin
	TimeJoint [][]float64
	SoCBins   []SoCBin
	SoCJoint  [][]float64
	Models    []EVModel
}

// Options are the generator settings shared by both modes.
type Options struct {
	Start          time.Time
	End            time.Time
	VehiclesPerDay int
	// MinStay is the shortest accepted stay.
	MinStay time.Duration
	// SameDayProbability is the chance of leaving on the arrival day in the
	// independent mode.
	SameDayProbability float64
	// ReservationLead is how long before arrival the reservation is made.
	ReservationLead   time.Duration
	V2GAllowanceRatio float64
	Clusters          []string
	Seed              uint64
	// MaxAttempts bounds rejection sampling per vehicle.
	MaxAttempts int
}

// SetDefaults fills unset options.
func (o *Options) SetDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1000
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	switch {
	case !o.End.After(o.Start):
		return fmt.Errorf("%w: horizon [%s, %s)", ErrInvalidInput, o.Start.Format(time.RFC3339), o.End.Format(time.RFC3339))
	case o.VehiclesPerDay < 0:
		return fmt.Errorf("%w: %d vehicles per day", ErrInvalidInput, o.VehiclesPerDay)
	case o.SameDayProbability < 0 || o.SameDayProbability > 1:
		return fmt.Errorf("%w: same day probability %g", ErrInvalidInput, o.SameDayProbability)
	case o.V2GAllowanceRatio < 0:
		return fmt.Errorf("%w: negative v2g allowance ratio", ErrInvalidInput)
	}
	return nil
}

// Row is one generated vehicle in the columns of the Fleet sheet.
type Row struct {
	ID                  string
	Capacity            float64 // kWh
	MaxCharge           float64
	MaxDischarge        float64
	ReservationTime     time.Time
	EstimatedArrival    time.Time
	EstimatedDeparture  time.Time
	EstimatedArrivalSoC float64
	TargetSoC           float64
	V2GAllowance        float64 // kWh
	RealArrival         time.Time
	RealArrivalSoC      float64
	RealDeparture       time.Time
	TargetCluster       string
}

// Vehicle converts the row to a model vehicle.
func (r Row) Vehicle() *model.Vehicle {
	ev := model.NewVehicle(r.ID, r.Capacity, r.MaxCharge, r.MaxDischarge)
	ev.ReservationTime = r.ReservationTime
	ev.EstimatedArrival = r.EstimatedArrival
	ev.EstimatedDeparture = r.EstimatedDeparture
	ev.EstimatedArrivalSoC = r.EstimatedArrivalSoC
	ev.TargetSoC = r.TargetSoC
	ev.V2GAllowance = r.V2GAllowance * 3600
	ev.RealArrival = r.RealArrival
	ev.RealArrivalSoC = r.RealArrivalSoC
	ev.RealDeparture = r.RealDeparture
	ev.TargetCluster = r.TargetCluster
	return ev
}

// Vehicles converts rows to model vehicles.
func Vehicles(rows []Row) []*model.Vehicle {
	out := make([]*model.Vehicle, len(rows))
	for i, r := range rows {
		out[i] = r.Vehicle()
	}
	return out
}

// stay is one accepted draw before it becomes a row.
type stay struct {
	arrival, departure time.Time
	arrSoC, depSoC     float64
	model              EVModel
}

type sampler struct {
	opts Options
	src  *rand.PCG
	rng  *rand.Rand

	models []EVModel
	ms     distuv.Categorical
}

func newSampler(opts Options, models []EVModel) (*sampler, error) {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no vehicle model", ErrInvalidInput)
	}
	shares := make([]float64, len(models))
	for i, m := range models {
		if m.Capacity <= 0 {
			return nil, fmt.Errorf("%w: model %s capacity %g", ErrInvalidInput, m.Name, m.Capacity)
		}
		shares[i] = m.Share
	}
	if err := checkWeights("EVData", shares); err != nil {
		return nil, err
	}
	src := rand.NewPCG(opts.Seed, opts.Seed^0xda3e39cb94b95bdb)
	return &sampler{opts: opts, src: src, rng: rand.New(src), models: models, ms: distuv.NewCategorical(shares, src)}, nil
}

func checkWeights(table string, w []float64) error {
	if len(w) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidInput, table)
	}
	var sum float64
	for _, v := range w {
		if v < 0 {
			return fmt.Errorf("%w: %s has a negative weight", ErrInvalidInput, table)
		}
		sum += v
	}
	if sum == 0 {
		return fmt.Errorf("%w: %s weights sum to zero", ErrInvalidInput, table)
	}
	return nil
}

func (s *sampler) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: s.src}.Rand()
}

func (s *sampler) within(day time.Time, b TimeBin) time.Time {
	off := s.uniform(float64(b.Start), float64(b.End))
	return day.Add(time.Duration(off)).Truncate(time.Minute)
}

func (s *sampler) soc(b SoCBin) float64 { return s.uniform(b.Lower, b.Upper) }

// accept applies the postconditions of a draw. A departure past the horizon
// is clamped to its end.
func (s *sampler) accept(st *stay) bool {
	if st.arrival.Before(s.opts.Start) || !st.arrival.Before(s.opts.End) {
		return false
	}
	if st.departure.After(s.opts.End) {
		st.departure = s.opts.End
	}
	return !st.arrival.Add(s.opts.MinStay).After(st.departure) && st.arrSoC < st.depSoC
}

// days runs draw VehiclesPerDay times for each day of the horizon.
func (s *sampler) days(draw func(day time.Time, weekend bool) stay) ([]Row, error) {
	var rows []Row
	start := time.Date(s.opts.Start.Year(), s.opts.Start.Month(), s.opts.Start.Day(), 0, 0, 0, 0, s.opts.Start.Location())
	for day := start; day.Before(s.opts.End); day = day.AddDate(0, 0, 1) {
		wd := day.Weekday()
		weekend := wd == time.Saturday || wd == time.Sunday
		for i := 0; i < s.opts.VehiclesPerDay; i++ {
			accepted := false
			for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
				st := draw(day, weekend)
				if s.accept(&st) {
					rows = append(rows, s.row(len(rows), st))
					accepted = true
					break
				}
			}
			if !accepted {
				return nil, fmt.Errorf("%w: vehicle %d of %s after %d attempts", ErrExhausted, i, day.Format(time.DateOnly), s.opts.MaxAttempts)
			}
		}
	}
	return rows, nil
}

func (s *sampler) row(n int, st stay) Row {
	r := Row{
		ID:                  fmt.Sprintf("EV%04d", n+1),
		Capacity:            st.model.Capacity,
		MaxCharge:           st.model.MaxCharge,
		MaxDischarge:        st.model.MaxDischarge,
		EstimatedArrival:    st.arrival,
		EstimatedDeparture:  st.departure,
		EstimatedArrivalSoC: st.arrSoC,
		TargetSoC:           st.depSoC,
		V2GAllowance:        s.opts.V2GAllowanceRatio * st.model.Capacity,
		RealArrival:         st.arrival,
		RealArrivalSoC:      st.arrSoC,
		RealDeparture:       st.departure,
	}
	r.ReservationTime = st.arrival.Add(-s.opts.ReservationLead)
	if r.ReservationTime.Before(s.opts.Start) {
		r.ReservationTime = s.opts.Start
	}
	if n := len(s.opts.Clusters); n > 0 {
		r.TargetCluster = s.opts.Clusters[s.rng.IntN(n)]
	}
	return r
}

func (s *sampler) pickModel() EVModel { return s.models[int(s.ms.Rand())] }
