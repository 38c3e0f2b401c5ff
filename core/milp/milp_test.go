package milp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/milp"
	"github.com/kilianp07/evstation/core/optim"
	"github.com/kilianp07/evstation/infra/solver"
)

const kWh = 3600.0

func gonum() optim.Solver { return solver.New(solver.Options{}, nil) }

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// confidenceInput is a 22 kW charger, 55 kWh battery, 08:00 to 10:00 in
// quarter hours, from 0.5 to 0.8 with 0.6 reached by 09:00.
func confidenceInput(prices []float64) milp.ScheduleInput {
	return milp.ScheduleInput{
		Step:       15 * time.Minute,
		N:          9,
		Capacity:   55 * kWh,
		InitialSoC: 0.5,
		TargetSoC:  0.8,
		MinSoC:     0,
		MaxSoC:     1,
		MaxCharge:  22,
		CrtSoC:     0.6,
		CrtStep:    4,
		Prices:     prices,
	}
}

func TestConfidenceWindowFlatTariff(t *testing.T) {
	res, err := milp.OptimalSchedule(context.Background(), gonum(), confidenceInput(repeat(1, 9)), milp.Mixed)
	require.NoError(t, err)
	require.Len(t, res.Power, 9)
	require.Len(t, res.SoC, 9)
	assert.InDelta(t, 0.5, res.SoC[0], 1e-9)
	assert.GreaterOrEqual(t, res.SoC[4], 0.6-1e-6)
	assert.InDelta(t, 0.8, res.SoC[8], 1e-6)
	assert.InDelta(t, 0, res.Power[8], 1e-9)
	assert.InDelta(t, 16.5, res.Cost, 1e-6)
	for _, p := range res.Power {
		assert.LessOrEqual(t, p, 22+1e-6)
		assert.GreaterOrEqual(t, p, -1e-9)
	}
}

func TestConfidenceWindowUsesCheapHours(t *testing.T) {
	prices := append(repeat(2, 4), repeat(1, 5)...)
	for _, variant := range []milp.Variant{milp.Mixed, milp.Linear} {
		res, err := milp.OptimalSchedule(context.Background(), gonum(), confidenceInput(prices), variant)
		require.NoError(t, err)
		// 5.5 kWh are needed before 09:00, the rest is bought at 1.
		assert.InDelta(t, 22, res.Cost, 1e-6)
		assert.InDelta(t, 0.6, res.SoC[4], 1e-6)
		assert.InDelta(t, 0.8, res.SoC[8], 1e-6)
	}
}

func TestBidirectionalArbitrage(t *testing.T) {
	in := milp.ScheduleInput{
		Step:         time.Hour,
		N:            3,
		Capacity:     10 * kWh,
		InitialSoC:   0.5,
		TargetSoC:    0.5,
		MaxSoC:       1,
		MaxCharge:    5,
		MaxDischarge: 5,
		V2GAllowance: 5 * kWh,
		CrtStep:      -1,
		Prices:       []float64{1, 3, 3},
	}
	res, err := milp.OptimalSchedule(context.Background(), gonum(), in, milp.Mixed)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5, -5, 0}, res.Power, 1e-6)
	assert.InDelta(t, -10, res.Objective, 1e-6)
	assert.InDelta(t, -10, res.Cost, 1e-6)

	in.V2GAllowance = 0
	res, err = milp.OptimalSchedule(context.Background(), gonum(), in, milp.Mixed)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, res.Power, 1e-6)
}

func TestCapacityConstrainedFollowsCorridor(t *testing.T) {
	in := confidenceInput(nil)
	in.CrtStep = -1
	in.CorridorLow = repeat(0, 9)
	in.CorridorUp = repeat(11, 9)
	res, err := milp.OptimalSchedule(context.Background(), gonum(), in, milp.CapacityConstrained)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res.SoC[8], 1e-6)
	for _, p := range res.Power {
		assert.LessOrEqual(t, p, 11+1e-6)
	}
	// The tie break charges as early as the corridor allows.
	assert.InDeltaSlice(t, []float64{11, 11, 11, 11, 11, 11, 0, 0, 0}, res.Power, 1e-6)
	assert.Less(t, res.Objective, 0.0)
}

func TestScheduleValidation(t *testing.T) {
	in := confidenceInput(repeat(1, 3))
	_, err := milp.OptimalSchedule(context.Background(), gonum(), in, milp.Mixed)
	assert.ErrorIs(t, err, milp.ErrInvalidInput)

	in = confidenceInput(repeat(1, 9))
	in.Arbitrage = 1
	_, err = milp.OptimalSchedule(context.Background(), gonum(), in, milp.Mixed)
	assert.ErrorIs(t, err, milp.ErrInvalidInput)
}

func TestUnreachableTargetIsSolverError(t *testing.T) {
	in := confidenceInput(repeat(1, 9))
	in.TargetSoC = 1
	in.MaxCharge = 5
	_, err := milp.OptimalSchedule(context.Background(), gonum(), in, milp.Mixed)
	require.Error(t, err)
	assert.Equal(t, optim.Infeasible, optim.StatusOf(err))

	in.TargetSoC = milp.Reachable(in.InitialSoC, 1, in.MaxSoC, in.MaxCharge, in.Capacity, in.N, in.Step)
	assert.InDelta(t, 0.5+5*2.0/55, in.TargetSoC, 1e-9)
	in.CrtSoC = 0
	_, err = milp.OptimalSchedule(context.Background(), gonum(), in, milp.Mixed)
	assert.NoError(t, err)
}

func twoClusterFleet() []milp.FleetVehicle {
	socs := map[string]float64{"v11": 0.3, "v12": 0.45, "v21": 0.5, "v22": 0.35}
	var out []milp.FleetVehicle
	for _, id := range []string{"v11", "v12", "v21", "v22"} {
		cl := "C1"
		if id[1] == '2' {
			cl = "C2"
		}
		out = append(out, milp.FleetVehicle{
			ID:             id,
			Cluster:        cl,
			SoC:            socs[id],
			MaxSoC:         1,
			Capacity:       55 * kWh,
			Efficiency:     1,
			MaxCharge:      22,
			DepartureSteps: 12,
			TargetSoC:      0.6,
			RhoY:           1,
		})
	}
	return out
}

func TestRescheduleTwoClusters(t *testing.T) {
	in := milp.RescheduleInput{
		Step:         5 * time.Minute,
		Horizon:      12,
		Vehicles:     twoClusterFleet(),
		Clusters:     []milp.ClusterLimits{{ID: "C1", Upper: repeat(22, 12), RhoEps: 10}, {ID: "C2", Upper: repeat(33, 12), RhoEps: 10}},
		StationUpper: repeat(44, 12),
	}
	res, err := milp.Reschedule(context.Background(), gonum(), in)
	require.NoError(t, err)

	for step := 0; step < 12; step++ {
		c1, c2 := res.ClusterPower["C1"][step], res.ClusterPower["C2"][step]
		assert.LessOrEqual(t, c1, 22+1e-6)
		assert.LessOrEqual(t, c2, 33+1e-6)
		assert.LessOrEqual(t, c1+c2, 44+1e-6)
	}
	// C1 needs 24.75 kWh within an hour capped at 22 kW.
	var dev float64
	for _, y := range res.Deviation {
		dev += y
	}
	assert.InDelta(t, 2.75/55, dev, 1e-6)
	assert.InDelta(t, 2.75, res.Objective, 1e-6)
	assert.InDelta(t, 0.6, res.SoC[2][12], 1e-6)
	assert.InDelta(t, 0.6, res.SoC[3][12], 1e-6)
	assert.Len(t, res.SoC[0], 13)
	assert.InDelta(t, 0, res.Eps["C1"], 1e-9)
}

func TestRescheduleToleranceAbsorbsShortfall(t *testing.T) {
	in := milp.RescheduleInput{
		Step:     5 * time.Minute,
		Horizon:  12,
		Vehicles: twoClusterFleet()[:2],
		Clusters: []milp.ClusterLimits{{ID: "C1", Upper: repeat(22, 12), Tolerance: 5, RhoEps: 0.01}},
	}
	res, err := milp.Reschedule(context.Background(), gonum(), in)
	require.NoError(t, err)
	// 2.75 kWh short over one hour is a constant 2.75 kW breach.
	assert.InDelta(t, 2.75, res.Eps["C1"], 1e-6)
	for _, p := range res.ClusterPower["C1"] {
		assert.LessOrEqual(t, p, 22+2.75+1e-6)
	}
	assert.InDelta(t, 0.6, res.SoC[0][12], 1e-6)
}

func TestRescheduleDepartureZeroesPower(t *testing.T) {
	fleet := twoClusterFleet()[:1]
	fleet[0].DepartureSteps = 4
	in := milp.RescheduleInput{
		Step:     5 * time.Minute,
		Horizon:  12,
		Vehicles: fleet,
		Clusters: []milp.ClusterLimits{{ID: "C1"}},
	}
	res, err := milp.Reschedule(context.Background(), gonum(), in)
	require.NoError(t, err)
	for step := 4; step < 12; step++ {
		assert.InDelta(t, 0, res.Power[0][step], 1e-9)
	}
	assert.InDeltaSlice(t, repeat(22, 4), res.Power[0][:4], 1e-6)
}

func TestRescheduleUnknownCluster(t *testing.T) {
	in := milp.RescheduleInput{Step: time.Minute, Horizon: 2, Vehicles: twoClusterFleet(), Clusters: []milp.ClusterLimits{{ID: "C1"}}}
	_, err := milp.Reschedule(context.Background(), gonum(), in)
	assert.ErrorIs(t, err, milp.ErrInvalidInput)
}

func TestPotentials(t *testing.T) {
	fleet := []milp.FleetVehicle{
		{ID: "a", SoC: 0.4, MinSoC: 0.4, MaxSoC: 1, Capacity: 55 * kWh, Efficiency: 0.95, MaxCharge: 22, MaxDischarge: 22, DepartureSteps: 3},
		{ID: "b", SoC: 0.6, MinSoC: 0.4, MaxSoC: 1, Capacity: 55 * kWh, Efficiency: 0.95, MaxCharge: 22, MaxDischarge: 22, DepartureSteps: 3},
	}
	ctx := context.Background()
	v2g, err := milp.V2GPotential(ctx, gonum(), fleet, 3, 5*time.Minute)
	require.NoError(t, err)
	// a sits at its minimum SOC and cannot export.
	assert.InDeltaSlice(t, repeat(-22*0.95, 3), v2g.Total, 1e-6)
	assert.InDeltaSlice(t, repeat(0, 3), v2g.Power[0], 1e-6)

	g2v, err := milp.G2VPotential(ctx, gonum(), fleet, 3, 5*time.Minute)
	require.NoError(t, err)
	assert.InDeltaSlice(t, repeat(44/0.95, 3), g2v.Total, 1e-6)
	assert.InDeltaSlice(t, repeat(22, 3), g2v.Power[1], 1e-6)
}

func TestRoutePicksCheaperCluster(t *testing.T) {
	in := milp.RoutingInput{
		Step:       time.Hour,
		N:          5,
		Capacity:   55 * kWh,
		MaxSoC:     1,
		TargetSoC:  0.7,
		CrtStep:    -1,
		Candidates: []milp.Candidate{
			{Cluster: "C1", Arrival: 0, Departure: 4, ArrivalSoC: 0.5, MaxCharge: 11, G2VPrice: repeat(3, 5), V2GPrice: repeat(3, 5)},
			{Cluster: "C2", Arrival: 1, Departure: 4, ArrivalSoC: 0.5, MaxCharge: 11, G2VPrice: []float64{5, 1, 1, 1, 1}, V2GPrice: repeat(1, 5)},
		},
	}
	res, err := milp.Route(context.Background(), gonum(), in)
	require.NoError(t, err)
	assert.Equal(t, "C2", res.Cluster)
	assert.Equal(t, 1, res.Index)
	assert.InDelta(t, 11, res.Cost, 1e-6)
	assert.InDelta(t, 0, res.Power[0], 1e-9)
	assert.InDelta(t, 0, res.Power[4], 1e-9)
	assert.InDelta(t, 0.7, res.SoC[4], 1e-6)
}

func TestRouteHonoursArrivalSoC(t *testing.T) {
	// C2 is cheaper per kWh but the vehicle reaches it far emptier.
	in := milp.RoutingInput{
		Step:      time.Hour,
		N:         4,
		Capacity:  10 * kWh,
		MaxSoC:    1,
		TargetSoC: 0.8,
		CrtStep:   -1,
		Candidates: []milp.Candidate{
			{Cluster: "C1", Departure: 3, ArrivalSoC: 0.6, MaxCharge: 5, G2VPrice: repeat(2, 4), V2GPrice: repeat(2, 4)},
			{Cluster: "C2", Departure: 3, ArrivalSoC: 0.2, MaxCharge: 5, G2VPrice: repeat(1.5, 4), V2GPrice: repeat(1.5, 4)},
		},
	}
	res, err := milp.Route(context.Background(), gonum(), in)
	require.NoError(t, err)
	// 2 kWh at 2 beats 6 kWh at 1.5.
	assert.Equal(t, "C1", res.Cluster)
	assert.InDelta(t, 4, res.Cost, 1e-6)
	assert.InDelta(t, 0.6, res.SoC[0], 1e-6)
}
