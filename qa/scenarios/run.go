package scenarios

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/control"
	"github.com/kilianp07/evstation/core/logger"
	coremetrics "github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/routine"
	"github.com/kilianp07/evstation/core/simulation"
	"github.com/kilianp07/evstation/infra/metrics"
	"github.com/kilianp07/evstation/infra/solver"
)

func RunScenario(t *testing.T, sc *Scenario) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	st, fleet, err := sc.Build()
	require.NoError(t, err)

	slv := coremetrics.InstrumentSolver(solver.New(solver.Options{}, logger.NopLogger{}), sink)
	policy, err := routine.NewPolicy(sc.Policy)
	require.NoError(t, err)
	var strategy routine.Strategy
	if sc.Strategy != "" {
		cfg := routine.ReservationConfig{Strategy: sc.Strategy}
		cfg.SetDefaults()
		strategy, err = routine.NewStrategy(cfg, slv)
		require.NoError(t, err)
	}
	ctrl, err := control.New(sc.Controller, control.Deps{Solver: slv, Log: logger.NopLogger{}})
	require.NoError(t, err)

	sim := &simulation.Simulation{
		Name:       sc.Name,
		Seed:       sc.Seed,
		Station:    st,
		Fleet:      fleet,
		Strategy:   strategy,
		Policy:     policy,
		Controller: ctrl,
		Sink:       sink,
	}
	rep, err := sim.Run(context.Background())
	require.NoError(t, err)

	exp := sc.Expected
	check := func(name string, want *int, got int, kind string) {
		if want == nil {
			return
		}
		assert.Equal(t, *want, got, name)
		assert.Equal(t, float64(*want), counter(t, reg, sc.Name, kind), name+" counter")
	}
	check("reserved", exp.Reserved, rep.Stats.Reserved, coremetrics.EventReserved)
	check("admitted", exp.Admitted, rep.Stats.Admitted, coremetrics.EventAdmitted)
	check("rejected", exp.Rejected, rep.Stats.Rejected, coremetrics.EventRejected)
	check("departed", exp.Departed, rep.Stats.Departed, coremetrics.EventDeparted)
	if exp.NetConsumption != nil {
		total := rep.Overall[len(rep.Overall)-1]
		assert.InDelta(t, *exp.NetConsumption, total.NetConsumption, 1e-6)
	}

	admitted, rejected := fleet.Processed()
	assert.Equal(t, fleet.IncomingTotal(), admitted+rejected)
}

// counter reads evs_vehicle_events_total for run and kind, zero when the
// series was never written.
func counter(t *testing.T, reg *prometheus.Registry, run, kind string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "evs_vehicle_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label(m, "run") == run && label(m, "kind") == kind {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func label(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
