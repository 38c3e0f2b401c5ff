package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/timeseries"
)

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

const step = 15 * time.Minute

func newTestCluster(t *testing.T, id string, n int, power, eff float64) *Cluster {
	t.Helper()
	var chargers []*Charger
	for i := 0; i < n; i++ {
		ch, err := NewCharger(id+"-cu"+string(rune('0'+i)), power, power, eff)
		require.NoError(t, err)
		chargers = append(chargers, ch)
	}
	c, err := NewCluster(id, 0, chargers...)
	require.NoError(t, err)
	return c
}

func TestPowerTableValidate(t *testing.T) {
	ok := PowerTable{{0, 0.8, 50}, {0.8, 1, 10}}
	assert.NoError(t, ok.Validate())

	gap := PowerTable{{0, 0.5, 50}, {0.6, 1, 10}}
	assert.ErrorIs(t, gap.Validate(), ErrInvalidScenario)

	short := PowerTable{{0, 0.9, 50}}
	assert.ErrorIs(t, short.Validate(), ErrInvalidScenario)

	p, found := ok.MaxPower(1)
	assert.True(t, found)
	assert.Equal(t, 10.0, p)
	p, _ = ok.MaxPower(0.3)
	assert.Equal(t, 50.0, p)
}

func TestChargingTimeCrossesBands(t *testing.T) {
	pt := PowerTable{{0, 0.5, 40}, {0.5, 0.8, 20}, {0.8, 1, 5}}
	capKWs := 50.0 * 3600
	// 0.4 -> 0.5 at min(40, 22), 0.5 -> 0.8 at 20, 0.8 -> 0.9 at 5.
	want := 0.1*capKWs/22 + 0.3*capKWs/20 + 0.1*capKWs/5
	assert.InDelta(t, want, pt.ChargingTime(0.4, 0.9, capKWs, 22), 1e-6)
	assert.Equal(t, 0.0, pt.ChargingTime(0.9, 0.8, capKWs, 22))
	assert.True(t, math.IsInf(PowerTable{{0, 1, 0}}.ChargingTime(0.1, 0.2, capKWs, 22), 1))
	assert.InDelta(t, 0.5*capKWs/11, PowerTable(nil).ChargingTime(0.5, 1, capKWs, 11), 1e-9)
}

func TestVehicleChargeConservation(t *testing.T) {
	ev := NewVehicle("ev1", 55, 11, 11)
	ev.SoC.Set(t0, 0.4)
	p := []float64{11, -5.5, 0, 11}
	for i, v := range p {
		require.NoError(t, ev.Charge(t0.Add(time.Duration(i)*step), step, v))
	}
	end := t0.Add(4 * step)
	s, _ := ev.SoCAt(end)
	g2v, v2g := ev.Energies(t0, end, step)
	assert.InDelta(t, (g2v-v2g)/55, s-0.4, 1e-12)
	assert.InDelta(t, 5.5, g2v, 1e-12)
	assert.InDelta(t, 1.375, v2g, 1e-12)

	other := NewVehicle("ev2", 55, 11, 11)
	assert.ErrorIs(t, other.Charge(t0, step, 1), ErrMissingConnection)
}

func TestSupplyRoundTrip(t *testing.T) {
	ch, err := NewCharger("cu1", 22, 22, 0.9)
	require.NoError(t, err)
	ev := NewVehicle("ev1", 40, 22, 22)
	ev.SoC.Set(t0, 0.5)
	require.NoError(t, ch.Connect(t0, ev))
	require.NoError(t, ch.Supply(t0, step, 9))

	fresh := NewVehicle("ev1", 40, 22, 22)
	fresh.SoC.Set(t0, 0.5)
	require.NoError(t, fresh.Charge(t0, step, 9))
	a, _ := ev.SoCAt(t0.Add(step))
	b, _ := fresh.SoCAt(t0.Add(step))
	assert.Equal(t, b, a)
}

func TestChargerEfficiencyLaw(t *testing.T) {
	ch, err := NewCharger("cu1", 22, 22, 0.8)
	require.NoError(t, err)
	ev := NewVehicle("ev1", 40, 22, 22)
	ev.SoC.Set(t0, 0.5)
	require.NoError(t, ch.Connect(t0, ev))
	require.NoError(t, ch.Supply(t0, step, 8))
	require.NoError(t, ch.Supply(t0.Add(step), step, -8))

	c, _ := ch.Consumed.Get(t0)
	assert.InDelta(t, 10, c, 1e-12)
	c, _ = ch.Consumed.Get(t0.Add(step))
	assert.InDelta(t, -6.4, c, 1e-12)

	_, err = NewCharger("bad", 22, 22, 0)
	assert.ErrorIs(t, err, ErrInvalidScenario)
	_, err = NewCharger("bad", 22, 22, 1.2)
	assert.ErrorIs(t, err, ErrInvalidScenario)
}

func TestChargerConnectDisconnect(t *testing.T) {
	ch, err := NewCharger("cu1", 22, 22, 1)
	require.NoError(t, err)
	a := NewVehicle("a", 40, 22, 22)
	b := NewVehicle("b", 40, 22, 22)

	assert.ErrorIs(t, ch.Disconnect(t0), ErrMissingConnection)
	assert.ErrorIs(t, ch.Supply(t0, step, 1), ErrMissingConnection)
	require.NoError(t, ch.Connect(t0, a))
	assert.Equal(t, "cu1", a.ConnectedCharger)
	assert.ErrorIs(t, ch.Connect(t0, b), ErrDoubleConnection)
	require.NoError(t, ch.Disconnect(t0.Add(2*step)))
	assert.Empty(t, a.ConnectedCharger)
	assert.Nil(t, ch.Vehicle())

	rec := ch.Connections[0]
	assert.False(t, rec.Open)
	assert.False(t, rec.Disconnected.Before(rec.Connected))
	assert.Equal(t, []int{1, 1, 0, 0}, ch.Occupation(t0, t0.Add(4*step), step))
}

func TestUncontrolledSupplyCapsAtHeadroom(t *testing.T) {
	ch, err := NewCharger("cu1", 11, 11, 1)
	require.NoError(t, err)
	ev := NewVehicle("ev1", 10, 11, 11)
	ev.SoC.Set(t0, 0.9)
	require.NoError(t, ch.Connect(t0, ev))
	require.NoError(t, ch.UncontrolledSupply(t0, step))
	s, _ := ev.SoCAt(t0.Add(step))
	assert.InDelta(t, 1.0, s, 1e-12)
	p, _ := ch.Supplied.Get(t0)
	assert.InDelta(t, 4, p, 1e-12)

	require.NoError(t, ch.UncontrolledSupply(t0.Add(step), step))
	p, _ = ch.Supplied.Get(t0.Add(step))
	assert.InDelta(t, 0, p, 1e-9)
}

func TestClusterReserveOverlapAndRoundTrip(t *testing.T) {
	c := newTestCluster(t, "C1", 2, 22, 1)
	a := NewVehicle("a", 40, 22, 22)
	b := NewVehicle("b", 40, 22, 22)

	id, err := c.Reserve(t0, t0.Add(time.Hour), t0.Add(3*time.Hour), a, "C1-cu0", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.True(t, a.Reserved)
	assert.Equal(t, "C1", a.ReservedCluster)
	assert.Equal(t, "C1-cu0", a.ReservedCharger)

	_, err = c.Reserve(t0, t0.Add(2*time.Hour), t0.Add(4*time.Hour), b, "C1-cu0", nil)
	assert.ErrorIs(t, err, ErrReservationOverlap)

	// Touching windows do not overlap.
	_, err = c.Reserve(t0, t0.Add(3*time.Hour), t0.Add(4*time.Hour), b, "C1-cu0", nil)
	require.NoError(t, err)

	before := len(c.ActiveReservations())
	tmp := NewVehicle("tmp", 40, 22, 22)
	rid, err := c.Reserve(t0, t0, t0.Add(time.Hour), tmp, "C1-cu1", nil)
	require.NoError(t, err)
	require.NoError(t, c.Unreserve(t0, rid))
	assert.Len(t, c.ActiveReservations(), before)
	r, err := c.Reservation(rid)
	require.NoError(t, err)
	assert.True(t, r.Cancelled())
	assert.False(t, r.Active)
	assert.Len(t, c.Reservations, 3)

	_, err = c.Reservation(99)
	assert.ErrorIs(t, err, ErrUnknownReservation)
	_, err = c.Reserve(t0, t0, t0.Add(time.Hour), tmp, "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownCharger)
}

func TestClusterQueryAvailability(t *testing.T) {
	c := newTestCluster(t, "C1", 2, 22, 1)
	a := NewVehicle("a", 40, 22, 22)
	_, err := c.Reserve(t0, t0.Add(time.Hour), t0.Add(2*time.Hour), a, "C1-cu0", nil)
	require.NoError(t, err)

	free := c.QueryAvailability(t0, t0.Add(90*time.Minute), step)
	require.Len(t, free, 1)
	assert.Equal(t, "C1-cu1", free[0].Charger)

	free = c.QueryAvailability(t0, t0.Add(time.Hour), step)
	assert.Len(t, free, 2)
}

func TestClusterContractAndSchedules(t *testing.T) {
	c := newTestCluster(t, "C1", 1, 22, 0.8)
	ev := NewVehicle("a", 40, 22, 22)
	ev.EstimatedDeparture = t0.Add(2 * step)
	sched := Schedule{Start: t0, Step: step, Power: []float64{8, -4, 8, 0}, SoC: []float64{0.5, 0.55, 0.525, 0.575}}
	contract := &Contract{Schedule: sched, G2VPrice: []float64{1, 1, 2, 2}, V2GPrice: []float64{0.5, 0.5, 0.5, 0.5}}
	id, err := c.Reserve(t0, t0, t0.Add(time.Hour), ev, "C1-cu0", contract)
	require.NoError(t, err)

	r, _ := c.Reservation(id)
	assert.InDelta(t, 4, r.ScheduledG2V, 1e-12)
	assert.InDelta(t, 1, r.ScheduledV2G, 1e-12)
	assert.InDelta(t, 8*0.25+16*0.25+4*0.5*0.25, r.Price, 1e-12)

	ch, _ := c.Charger("C1-cu0")
	require.NotNil(t, ch.ScheduleFor("a"))
	assert.Nil(t, ch.ActiveSchedule())

	// Unconnected chargers contribute nothing.
	agg := c.AggregateSchedule(t0, t0.Add(time.Hour), step)
	assert.Equal(t, []float64{0, 0, 0, 0}, agg)

	ev.SoC.Set(t0, 0.5)
	require.NoError(t, ch.Connect(t0, ev))
	agg = c.AggregateSchedule(t0, t0.Add(time.Hour), step)
	assert.InDeltaSlice(t, []float64{10, -3.2, 0, 0}, agg, 1e-12)

	ch.ClearSchedule("a")
	assert.Nil(t, ch.ActiveSchedule())
	assert.Len(t, ch.Schedules(), 1)
}

func TestClusterConnectionDataset(t *testing.T) {
	c := newTestCluster(t, "C1", 1, 22, 1)
	ch, _ := c.Charger("C1-cu0")
	ev := NewVehicle("a", 55, 22, 22)
	ev.SoC.Set(t0, 0.4)
	require.NoError(t, ch.Connect(t0, ev))
	require.NoError(t, c.EnterDataOfIncomingVehicle(t0, ev, ch.ID))
	require.NoError(t, ch.Supply(t0, step, 22))
	require.NoError(t, ch.Supply(t0.Add(step), step, -11))
	end := t0.Add(2 * step)
	require.NoError(t, c.EnterDataOfOutgoingVehicle(end, ev, step))
	require.NoError(t, ch.Disconnect(end))

	row := c.Connections[0]
	assert.False(t, row.Open)
	assert.InDelta(t, 0.4, row.ArrivalSoC, 1e-12)
	assert.InDelta(t, 5.5-2.75, row.NetG2V, 1e-12)
	assert.InDelta(t, 2.75, row.TotalV2G, 1e-12)
	assert.InDelta(t, 0.4+2.75/55, row.LeaveSoC, 1e-12)

	assert.ErrorIs(t, c.EnterDataOfOutgoingVehicle(end, ev, step), ErrMissingConnection)

	tot := c.Totals(t0, end, step)
	assert.InDelta(t, 2.75, tot.NetConsumption, 1e-12)
	assert.InDelta(t, 2.75, tot.UnscheduledV2G, 1e-12)
}

func TestClusterPowerLimits(t *testing.T) {
	c := newTestCluster(t, "C1", 1, 22, 1)
	assert.True(t, math.IsInf(c.UpperAt(t0), 1))
	assert.True(t, math.IsInf(c.LowerAt(t0), -1))

	err := c.EnterPowerLimits(t0, t0.Add(time.Hour), step, []LimitEntry{
		{T: t0.Add(step), LB: -5, UB: 20},
		{T: t0.Add(3 * step), LB: 0, UB: 10},
	})
	require.NoError(t, err)
	lo, up := c.Bounds(t0, t0.Add(time.Hour), step)
	assert.Equal(t, []float64{20, 20, 20, 10}, up)
	assert.Equal(t, []float64{-5, -5, -5, 0}, lo)

	err = c.EnterPowerLimits(t0, t0.Add(time.Hour), step, []LimitEntry{{T: t0, LB: 5, UB: 1}})
	assert.ErrorIs(t, err, ErrInvalidScenario)
	err = c.EnterPowerLimits(t0, t0.Add(time.Hour), step, []LimitEntry{{T: t0, UB: 1}, {T: t0, UB: 2}})
	assert.ErrorIs(t, err, ErrInvalidScenario)
}

func TestStationUniqueIDsAndForecast(t *testing.T) {
	s := NewStation("S")
	c1 := newTestCluster(t, "C1", 2, 22, 1)
	c2 := newTestCluster(t, "C2", 2, 22, 1)
	require.NoError(t, s.AddCluster(c2))
	require.NoError(t, s.AddCluster(c1))
	assert.Equal(t, "C1", s.Clusters()[0].ID)
	assert.Same(t, s, c1.Station())

	dup, err := NewCharger("C1-cu0", 22, 22, 1)
	require.NoError(t, err)
	c3, err := NewCluster("C3", 0, dup)
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddCluster(c3), ErrInvalidScenario)

	cl, ch, err := s.FindCharger("C2-cu1")
	require.NoError(t, err)
	assert.Equal(t, "C2", cl.ID)
	assert.Equal(t, "C2-cu1", ch.ID)

	ev := NewVehicle("a", 40, 22, 22)
	_, err = c2.Reserve(t0, t0.Add(time.Hour), t0.Add(2*time.Hour), ev, "C2-cu0", nil)
	require.NoError(t, err)
	_, err = c2.Reserve(t0, t0.Add(time.Hour), t0.Add(2*time.Hour), ev, "C2-cu1", nil)
	require.NoError(t, err)

	// C2 is booked from 09:00 and the forecast delay shifts its window there.
	free := s.QueryAvailability(t0, t0.Add(time.Hour), step, nil)
	assert.Len(t, free, 4)
	free = s.QueryAvailability(t0, t0.Add(time.Hour), step, TrafficForecast{
		"C2": {ArrivalDelay: time.Hour, DepartureDelay: time.Hour},
	})
	assert.Len(t, free, 2)
	for _, row := range free {
		assert.Equal(t, "C1", row.Cluster)
	}
}

func TestStationTOU(t *testing.T) {
	s := NewStation("S")
	err := s.EnterTOUPrice(t0, t0.Add(time.Hour), step, []timeseries.Point{{T: t0, V: 1}, {T: t0.Add(30 * time.Minute), V: 2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 2, 2}, s.TOUPrices(t0, t0.Add(time.Hour), step))
	assert.Equal(t, 2.0, s.TOUAt(t0.Add(2*time.Hour)))
}

func TestFleetBuckets(t *testing.T) {
	g, err := timeseries.NewGrid(t0, t0.Add(4*time.Hour), step)
	require.NoError(t, err)
	mk := func(id string, arr, dep time.Duration) *Vehicle {
		v := NewVehicle(id, 40, 11, 11)
		v.ReservationTime = t0
		v.RealArrival = t0.Add(arr)
		v.RealDeparture = t0.Add(dep)
		return v
	}
	b := mk("b", 7*time.Minute, time.Hour)
	a := mk("a", 15*time.Minute, 5*time.Hour)
	walkIn := mk("w", 0, time.Hour)
	walkIn.ReservationTime = time.Time{}

	f, err := NewFleet("F", g, []*Vehicle{b, a, walkIn})
	require.NoError(t, err)
	in := f.IncomingVehiclesAt(t0.Add(step))
	require.Len(t, in, 2)
	assert.Equal(t, "a", in[0].ID)
	assert.Equal(t, "b", in[1].ID)
	assert.Len(t, f.ReservingVehiclesAt(t0), 2)
	assert.Equal(t, []*Vehicle{walkIn}, f.NeverReserving())
	assert.Equal(t, []*Vehicle{a}, f.NeverLeaving())
	assert.Equal(t, 3, f.IncomingTotal())

	_, err = NewFleet("F", g, []*Vehicle{mk("x", 0, time.Hour), mk("x", 0, time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidScenario)
	_, err = NewFleet("F", g, []*Vehicle{mk("y", time.Hour, 0)})
	assert.ErrorIs(t, err, ErrInvalidScenario)
	_, err = f.Vehicle("zz")
	assert.ErrorIs(t, err, ErrUnknownVehicle)
}
