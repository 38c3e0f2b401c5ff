package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func independent() Independent {
	return Independent{
		Arrival: TimePDF{
			Bins:    []TimeBin{{ID: "a1", Start: 7 * time.Hour, End: 9 * time.Hour}, {ID: "a2", Start: 9 * time.Hour, End: 11 * time.Hour}},
			Weekday: []float64{60, 40},
			Weekend: []float64{50, 50},
		},
		Departure: TimePDF{
			Bins:    []TimeBin{{ID: "d1", Start: 16 * time.Hour, End: 18 * time.Hour}, {ID: "d2", Start: 18 * time.Hour, End: 20 * time.Hour}},
			Weekday: []float64{0.5, 0.5},
			Weekend: []float64{0.2, 0.8},
		},
		ArrivalSoC:   SoCPDF{Bins: []SoCBin{{ID: "s1", Lower: 0.1, Upper: 0.3}, {ID: "s2", Lower: 0.3, Upper: 0.5}}, Prob: []float64{1, 1}},
		DepartureSoC: SoCPDF{Bins: []SoCBin{{ID: "s3", Lower: 0.6, Upper: 0.8}, {ID: "s4", Lower: 0.8, Upper: 1}}, Prob: []float64{1, 3}},
		Models: []EVModel{
			{Name: "small", Capacity: 40, MaxCharge: 7, MaxDischarge: 7, Share: 0.3},
			{Name: "large", Capacity: 80, MaxCharge: 22, MaxDischarge: 11, Share: 0.7},
		},
	}
}

func options(seed uint64) Options {
	return Options{
		Start:              monday,
		End:                monday.AddDate(0, 0, 2),
		VehiclesPerDay:     10,
		MinStay:            time.Hour,
		SameDayProbability: 0.8,
		ReservationLead:    2 * time.Hour,
		V2GAllowanceRatio:  0.25,
		Clusters:           []string{"C1", "C2"},
		Seed:               seed,
	}
}

func TestIndependentIsDeterministic(t *testing.T) {
	a, err := GenerateIndependent(independent(), options(3))
	require.NoError(t, err)
	b, err := GenerateIndependent(independent(), options(3))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := GenerateIndependent(independent(), options(4))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestIndependentPostconditions(t *testing.T) {
	opts := options(11)
	rows, err := GenerateIndependent(independent(), opts)
	require.NoError(t, err)
	require.Len(t, rows, 20)
	ids := make(map[string]bool)
	for _, r := range rows {
		assert.False(t, ids[r.ID], "duplicate id %s", r.ID)
		ids[r.ID] = true
		assert.False(t, r.RealArrival.Before(opts.Start), r.ID)
		assert.True(t, r.RealArrival.Before(opts.End), r.ID)
		assert.False(t, r.RealArrival.Add(opts.MinStay).After(r.RealDeparture), r.ID)
		assert.False(t, r.RealDeparture.After(opts.End), r.ID)
		assert.Less(t, r.RealArrivalSoC, r.TargetSoC, r.ID)
		assert.Equal(t, r.RealArrival, r.EstimatedArrival)
		assert.Equal(t, r.RealArrival.Add(-opts.ReservationLead), r.ReservationTime)
		assert.InDelta(t, 0.25*r.Capacity, r.V2GAllowance, 1e-12)
		assert.Contains(t, opts.Clusters, r.TargetCluster)
		h := r.RealArrival.Hour()
		assert.True(t, h >= 7 && h < 11, "arrival hour %d", h)
	}
}

func TestConditionalJointBins(t *testing.T) {
	in := Conditional{
		TimeBins: []TimeBin{
			{ID: "morning", Start: 8 * time.Hour, End: 9 * time.Hour},
			{ID: "evening", Start: 17 * time.Hour, End: 18 * time.Hour},
		},
		// Only morning arrivals with evening departures, and evening
		// arrivals with next-morning departures.
		TimeJoint: [][]float64{{0, 70}, {30, 0}},
		SoCBins:   []SoCBin{{ID: "low", Lower: 0.1, Upper: 0.2}, {ID: "high", Lower: 0.8, Upper: 0.9}},
		SoCJoint:  [][]float64{{0, 1}, {0, 0}},
		Models:    []EVModel{{Name: "m", Capacity: 50, MaxCharge: 11, Share: 1}},
	}
	opts := options(5)
	opts.End = monday.AddDate(0, 0, 3)
	rows, err := GenerateConditional(in, opts)
	require.NoError(t, err)
	require.Len(t, rows, 30)
	for _, r := range rows {
		assert.True(t, r.RealDeparture.After(r.RealArrival), r.ID)
		assert.True(t, r.RealArrivalSoC >= 0.1 && r.RealArrivalSoC <= 0.2, r.ID)
		assert.True(t, r.TargetSoC >= 0.8 && r.TargetSoC <= 0.9, r.ID)
		switch r.RealArrival.Hour() {
		case 8:
			assert.Equal(t, 17, r.RealDeparture.Hour(), r.ID)
		case 17:
			if !r.RealDeparture.Equal(opts.End) {
				assert.Equal(t, 8, r.RealDeparture.Hour(), r.ID)
			}
		default:
			t.Errorf("%s arrives at %s", r.ID, r.RealArrival)
		}
	}
}

func TestRejectionSamplingGivesUp(t *testing.T) {
	in := independent()
	in.ArrivalSoC = SoCPDF{Bins: []SoCBin{{Lower: 0.8, Upper: 0.9}}, Prob: []float64{1}}
	in.DepartureSoC = SoCPDF{Bins: []SoCBin{{Lower: 0.1, Upper: 0.2}}, Prob: []float64{1}}
	opts := options(1)
	opts.MaxAttempts = 5
	_, err := GenerateIndependent(in, opts)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestInvalidTables(t *testing.T) {
	in := independent()
	in.Arrival.Weekend = []float64{1}
	_, err := GenerateIndependent(in, options(1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	in = independent()
	in.Models = nil
	_, err = GenerateIndependent(in, options(1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = GenerateConditional(Conditional{
		TimeBins:  []TimeBin{{Start: 0, End: time.Hour}},
		TimeJoint: [][]float64{{1, 2}},
	}, options(1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	opts := options(1)
	opts.End = opts.Start
	_, err = GenerateIndependent(independent(), opts)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRowVehicle(t *testing.T) {
	r := Row{ID: "EV0001", Capacity: 50, MaxCharge: 11, MaxDischarge: 7, V2GAllowance: 10, TargetCluster: "C2", RealArrivalSoC: 0.3}
	ev := r.Vehicle()
	assert.Equal(t, 50*3600.0, ev.BatteryCapacity)
	assert.Equal(t, 10*3600.0, ev.V2GAllowance)
	assert.Equal(t, "C2", ev.TargetCluster)
	assert.Equal(t, -1, ev.ReservationID)
	require.NoError(t, ev.Validate())
	assert.Len(t, Vehicles([]Row{r, r}), 2)
}
