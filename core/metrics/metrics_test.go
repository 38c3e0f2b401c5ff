package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/factory"
	"github.com/kilianp07/evstation/core/optim"
)

type recordSink struct {
	steps  int
	events []VehicleEvent
	solves []SolveEvent
}

func (r *recordSink) RecordStep([]ClusterSample) error { r.steps++; return nil }

func (r *recordSink) RecordVehicleEvent(ev VehicleEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordSink) RecordSolve(ev SolveEvent) error {
	r.solves = append(r.solves, ev)
	return nil
}

type stepOnly struct{ steps int }

func (s *stepOnly) RecordStep([]ClusterSample) error { s.steps++; return nil }

func TestMultiSinkForwardsToCapableSinks(t *testing.T) {
	full, bare := &recordSink{}, &stepOnly{}
	m := NewMultiSink(full, bare)
	require.NoError(t, m.RecordStep(nil))
	require.NoError(t, m.RecordVehicleEvent(VehicleEvent{Kind: EventAdmitted, Count: 2}))
	require.NoError(t, m.RecordRun(RunSummary{Steps: 3}))
	assert.Equal(t, 1, full.steps)
	assert.Equal(t, 1, bare.steps)
	assert.Equal(t, []VehicleEvent{{Kind: EventAdmitted, Count: 2}}, full.events)
}

func TestNewMetricsSink(t *testing.T) {
	require.NoError(t, RegisterMetricsSink("test_record", func(map[string]any) (MetricsSink, error) {
		return &recordSink{}, nil
	}))
	s, err := NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "test_record"}})
	require.NoError(t, err)
	assert.IsType(t, &recordSink{}, s)

	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "test_record"}, {Type: "test_record"}})
	require.NoError(t, err)
	m, ok := s.(*MultiSink)
	require.True(t, ok)
	assert.Len(t, m.Sinks, 2)

	_, err = NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}})
	assert.Error(t, err)
}

func TestInstrumentSolver(t *testing.T) {
	rec := &recordSink{}
	fail := &optim.SolverError{Problem: "p", Status: optim.Infeasible}
	calls := 0
	inner := optim.SolverFunc(func(_ context.Context, p *optim.Problem) (optim.Solution, error) {
		calls++
		if calls == 2 {
			return optim.Solution{Nodes: 4}, fail
		}
		return optim.Solution{Nodes: 1}, nil
	})
	s := InstrumentSolver(inner, rec)
	_, err := s.Solve(context.Background(), optim.NewProblem("first"))
	require.NoError(t, err)
	_, err = s.Solve(context.Background(), optim.NewProblem("second"))
	assert.True(t, errors.Is(err, optim.ErrSolver))

	require.Len(t, rec.solves, 2)
	assert.Equal(t, "first", rec.solves[0].Problem)
	assert.Equal(t, "optimal", rec.solves[0].Status)
	assert.Equal(t, "infeasible", rec.solves[1].Status)
	assert.Equal(t, 4, rec.solves[1].Nodes)

	bare := &stepOnly{}
	assert.NotNil(t, InstrumentSolver(inner, bare))
}

type closingSink struct {
	stepOnly
	err error
}

func (c *closingSink) Close() error { return c.err }

func TestMultiSinkClose(t *testing.T) {
	boom := errors.New("boom")
	m := NewMultiSink(&closingSink{}, &stepOnly{}, &closingSink{err: boom})
	assert.ErrorIs(t, m.Close(), boom)
	assert.NoError(t, NewMultiSink(&stepOnly{}).Close())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, RegisterMetricsSink("test_validate", func(map[string]any) (MetricsSink, error) {
		return NopSink{}, nil
	}))
	assert.Contains(t, SinkKinds(), "test_validate")
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Sinks: []factory.ModuleConfig{{Type: "test_validate"}}}.Validate())
	assert.Error(t, Config{Sinks: []factory.ModuleConfig{{Type: "statsd"}}}.Validate())
}
