package control

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/factory"
	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/optim"
	"github.com/kilianp07/evstation/infra/solver"
)

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func gonum() optim.Solver { return solver.New(solver.Options{}, nil) }

func station(t *testing.T, clusters ...*model.Cluster) *model.Station {
	t.Helper()
	st := model.NewStation("cs")
	for _, c := range clusters {
		require.NoError(t, st.AddCluster(c))
	}
	return st
}

func cluster(t *testing.T, id string, n int, ch, ds, eff float64) *model.Cluster {
	t.Helper()
	var chargers []*model.Charger
	for i := 0; i < n; i++ {
		c, err := model.NewCharger(id+"-cu"+string(rune('0'+i)), ch, ds, eff)
		require.NoError(t, err)
		chargers = append(chargers, c)
	}
	c, err := model.NewCluster(id, 0, chargers...)
	require.NoError(t, err)
	return c
}

// plug connects ev at the given instant with its SOC known at t0.
func plug(t *testing.T, ch *model.Charger, at time.Time, ev *model.Vehicle, soc float64) {
	t.Helper()
	ev.SoC.Set(t0, soc)
	require.NoError(t, ch.Connect(at, ev))
}

func TestUncontrolledSingleVehicle(t *testing.T) {
	c := cluster(t, "C1", 1, 11, 0, 1)
	st := station(t, c)
	ev := model.NewVehicle("ev1", 55, 8.25, 0)
	plug(t, c.Chargers()[0], t0, ev, 0.4)

	ctrl := NewUncontrolled(nil)
	step := 15 * time.Minute
	for now := t0; now.Before(t0.Add(4 * time.Hour)); now = now.Add(step) {
		require.NoError(t, ctrl.Run(context.Background(), now, step, st))
	}
	for h, want := range []float64{0.55, 0.70, 0.85, 1.00} {
		soc, ok := ev.SoC.Get(t0.Add(time.Duration(h+1) * time.Hour))
		require.True(t, ok)
		assert.InDelta(t, want, soc, 1e-9)
	}
	g2v, v2g := ev.Energies(t0, t0.Add(4*time.Hour), step)
	assert.InDelta(t, 33, g2v, 1e-9)
	assert.Zero(t, v2g)
}

func TestFCFSServesLongestConnectedFirst(t *testing.T) {
	c := cluster(t, "C1", 2, 22, 0, 1)
	require.NoError(t, c.EnterPowerLimits(t0, t0.Add(time.Hour), 15*time.Minute, []model.LimitEntry{{T: t0, LB: 0, UB: 30}}))
	st := station(t, c)
	late := model.NewVehicle("a", 55, 22, 0)
	early := model.NewVehicle("b", 55, 22, 0)
	plug(t, c.Chargers()[0], t0.Add(-30*time.Minute), late, 0.2)
	plug(t, c.Chargers()[1], t0.Add(-time.Hour), early, 0.2)

	require.NoError(t, NewFCFS(nil).Run(context.Background(), t0, 15*time.Minute, st))
	assert.InDelta(t, 22, c.Chargers()[1].Supplied.ValueOr(t0, -1), 1e-9)
	assert.InDelta(t, 8, c.Chargers()[0].Supplied.ValueOr(t0, -1), 1e-9)
	assert.InDelta(t, 30, c.GridPowerAt(t0), 1e-9)
}

func TestFCFSAccountsForEfficiency(t *testing.T) {
	c := cluster(t, "C1", 2, 22, 0, 0.9)
	require.NoError(t, c.EnterPowerLimits(t0, t0.Add(time.Hour), 15*time.Minute, []model.LimitEntry{{T: t0, LB: 0, UB: 30}}))
	st := station(t, c)
	a, b := model.NewVehicle("a", 55, 22, 0), model.NewVehicle("b", 55, 22, 0)
	plug(t, c.Chargers()[0], t0.Add(-time.Hour), a, 0.2)
	plug(t, c.Chargers()[1], t0.Add(-time.Hour), b, 1)

	require.NoError(t, NewFCFS(nil).Run(context.Background(), t0, 15*time.Minute, st))
	// Same connection time: charger id decides, and the full vehicle asks
	// for nothing.
	assert.InDelta(t, 22, c.Chargers()[0].Supplied.ValueOr(t0, -1), 1e-9)
	assert.InDelta(t, 0, c.Chargers()[1].Supplied.ValueOr(t0, -1), 1e-9)
	assert.InDelta(t, 22/0.9, c.GridPowerAt(t0), 1e-9)
}

func TestLLFServesUrgentVehicleFirst(t *testing.T) {
	c := cluster(t, "C1", 2, 22, 0, 1)
	require.NoError(t, c.EnterPowerLimits(t0, t0.Add(time.Hour), 15*time.Minute, []model.LimitEntry{{T: t0, LB: 0, UB: 30}}))
	st := station(t, c)
	relaxed := model.NewVehicle("a", 55, 22, 0)
	relaxed.TargetSoC = 0.9
	relaxed.EstimatedDeparture = t0.Add(10 * time.Hour)
	urgent := model.NewVehicle("b", 55, 22, 0)
	urgent.TargetSoC = 0.9
	urgent.EstimatedDeparture = t0.Add(2 * time.Hour)
	plug(t, c.Chargers()[0], t0.Add(-time.Hour), relaxed, 0.2)
	plug(t, c.Chargers()[1], t0, urgent, 0.2)

	llf := NewLLF(LLFConfig{}, nil)
	assert.InDelta(t, 1-0.7*55*3600/22/7200, llf.Laxity(c.Chargers()[1], t0), 1e-9)
	assert.InDelta(t, 1-0.7*55*3600/22/36000, llf.Laxity(c.Chargers()[0], t0), 1e-9)

	require.NoError(t, llf.Run(context.Background(), t0, 15*time.Minute, st))
	assert.InDelta(t, 22, c.Chargers()[1].Supplied.ValueOr(t0, -1), 1e-9)
	assert.InDelta(t, 8, c.Chargers()[0].Supplied.ValueOr(t0, -1), 1e-9)
}

func TestLaxityFollowsPowerTable(t *testing.T) {
	c := cluster(t, "C1", 1, 22, 0, 1)
	ev := model.NewVehicle("a", 55, 22, 0)
	require.NoError(t, ev.SetPowerTable(model.PowerTable{{Lower: 0, Upper: 0.5, MaxPower: 22}, {Lower: 0.5, Upper: 1, MaxPower: 11}}))
	ev.TargetSoC = 0.8
	ev.EstimatedDeparture = t0.Add(9000 * time.Second)
	plug(t, c.Chargers()[0], t0, ev, 0.2)

	// 0.3 of the battery at 22 kW, then 0.3 at 11 kW.
	tmin := 0.3*55*3600/22 + 0.3*55*3600/11
	assert.InDelta(t, 1-tmin/9000, NewLLF(LLFConfig{}, nil).Laxity(c.Chargers()[0], t0), 1e-9)

	ev.EstimatedDeparture = t0.Add(-time.Hour)
	assert.InDelta(t, 1-tmin, NewLLF(LLFConfig{}, nil).Laxity(c.Chargers()[0], t0), 1e-6)
}

func exportEnvelope(t *testing.T) (*model.Station, *model.Cluster) {
	t.Helper()
	c := cluster(t, "C1", 4, 22, 22, 0.95)
	step := 5 * time.Minute
	require.NoError(t, c.EnterPowerLimits(t0, t0.Add(2*time.Hour), step, []model.LimitEntry{
		{T: t0, LB: math.Inf(-1), UB: -10},
		{T: t0.Add(2 * step), LB: math.Inf(-1), UB: math.Inf(1)},
	}))
	for i, ch := range c.Chargers() {
		ev := model.NewVehicle("ev"+string(rune('0'+i)), 55, 22, 22)
		ev.MinSoC = 0.4
		ev.TargetSoC = 0.8
		ev.EstimatedDeparture = t0.Add(2 * time.Hour)
		plug(t, ch, t0, ev, 0.4)
	}
	return station(t, c), c
}

func TestGuardedReplacesUnreachableExport(t *testing.T) {
	st, c := exportEnvelope(t)
	conf := MILPConfig{Horizon: 4}
	g := NewGuarded(conf, gonum(), nil)
	require.NoError(t, g.Run(context.Background(), t0, 5*time.Minute, st))
	assert.LessOrEqual(t, c.GridPowerAt(t0), 1e-6)
	for _, ch := range c.Chargers() {
		soc, _ := ch.Vehicle().SoC.Get(t0.Add(5 * time.Minute))
		assert.GreaterOrEqual(t, soc, 0.4-1e-9)
	}

	// Without the repair the export cannot be met.
	st2, _ := exportEnvelope(t)
	err := NewRescheduler(conf, gonum(), nil).Run(context.Background(), t0, 5*time.Minute, st2)
	require.Error(t, err)
	assert.ErrorIs(t, err, optim.ErrSolver)
}

func TestReschedulerHonoursClusterEnvelope(t *testing.T) {
	c := cluster(t, "C1", 2, 22, 0, 1)
	step := 5 * time.Minute
	require.NoError(t, c.EnterPowerLimits(t0, t0.Add(2*time.Hour), step, []model.LimitEntry{{T: t0, LB: 0, UB: 30}}))
	st := station(t, c)
	for i, ch := range c.Chargers() {
		ev := model.NewVehicle("ev"+string(rune('0'+i)), 55, 22, 0)
		ev.TargetSoC = 0.9
		ev.EstimatedDeparture = t0.Add(time.Hour)
		plug(t, ch, t0, ev, 0.3)
	}
	r := NewRescheduler(MILPConfig{Horizon: 6}, gonum(), nil)
	for now := t0; now.Before(t0.Add(30 * time.Minute)); now = now.Add(step) {
		require.NoError(t, r.Run(context.Background(), now, step, st))
		assert.LessOrEqual(t, c.GridPowerAt(now), 30+1e-6)
		// Neither vehicle can reach 0.9 in the hour: the whole budget is used.
		assert.InDelta(t, 30, c.GridPowerAt(now), 1e-6)
	}
}

func TestReschedulerTracksActiveSchedule(t *testing.T) {
	c := cluster(t, "C1", 1, 22, 0, 1)
	st := station(t, c)
	step := 15 * time.Minute
	ev := model.NewVehicle("ev", 55, 22, 0)
	ev.TargetSoC = 1
	ev.EstimatedDeparture = t0.Add(4 * time.Hour)
	ch := c.Chargers()[0]
	plug(t, ch, t0, ev, 0.5)
	// The committed plan holds the SOC at 0.5 for the first hour.
	ch.SetSchedule(t0, "ev", model.Schedule{Start: t0, Step: step, Power: make([]float64, 8), SoC: []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.6, 0.7, 0.8}})
	require.NoError(t, NewRescheduler(MILPConfig{Horizon: 4}, gonum(), nil).Run(context.Background(), t0, step, st))
	assert.InDelta(t, 0, ch.Supplied.ValueOr(t0, -1), 1e-6)
}

func TestCentralSharesStationLimit(t *testing.T) {
	c1 := cluster(t, "C1", 1, 22, 0, 1)
	c2 := cluster(t, "C2", 1, 22, 0, 1)
	st := station(t, c1, c2)
	step := 5 * time.Minute
	require.NoError(t, st.EnterPowerLimits(t0, t0.Add(time.Hour), step, []model.LimitEntry{{T: t0, LB: math.Inf(-1), UB: 30}}))
	for i, c := range []*model.Cluster{c1, c2} {
		ev := model.NewVehicle("ev"+string(rune('1'+i)), 55, 22, 0)
		ev.TargetSoC = 1
		ev.EstimatedDeparture = t0.Add(time.Hour)
		plug(t, c.Chargers()[0], t0, ev, 0.2)
	}
	require.NoError(t, NewCentral(MILPConfig{Horizon: 3}, gonum(), nil).Run(context.Background(), t0, step, st))
	assert.InDelta(t, 30, st.GridPowerAt(t0), 1e-6)
}

func TestEnvelopeInfeasibleError(t *testing.T) {
	var err error = &EnvelopeInfeasibleError{Cluster: "C1", Step: t0, Lower: 5, Upper: 2}
	wrapped := errors.Join(errors.New("step failed"), err)
	assert.ErrorIs(t, wrapped, ErrEnvelopeInfeasible)
	var env *EnvelopeInfeasibleError
	require.ErrorAs(t, wrapped, &env)
	assert.Equal(t, "C1", env.Cluster)
	assert.Contains(t, err.Error(), "2024-03-04T08:00:00Z")
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"fcfs", "llf", "milp", "milp_central", "milp_guarded", "uncontrolled"}, Kinds())

	ctrl, err := New(factory.ModuleConfig{Type: "milp", Conf: map[string]any{
		"horizon":            6,
		"penalty_parameters": map[string]any{"C1": map[string]any{"rho_y": 2, "rho_eps": 50}},
	}}, Deps{Solver: gonum()})
	require.NoError(t, err)
	r, ok := ctrl.(*Rescheduler)
	require.True(t, ok)
	assert.Equal(t, 6, r.conf.Horizon)
	assert.Equal(t, Penalty{RhoY: 2, RhoEps: 50}, r.conf.penalty("C1"))
	assert.Equal(t, Penalty{RhoY: 1, RhoEps: 100}, r.conf.penalty("C2"))

	_, err = New(factory.ModuleConfig{Type: "milp_guarded"}, Deps{})
	assert.Error(t, err)
	_, err = New(factory.ModuleConfig{Type: "milp", Conf: map[string]any{"horizon": -1}}, Deps{Solver: gonum()})
	assert.Error(t, err)
	_, err = New(factory.ModuleConfig{Type: "bogus"}, Deps{})
	assert.Error(t, err)

	ctrl, err = New(factory.ModuleConfig{Type: "fcfs"}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &FCFS{}, ctrl)
}
