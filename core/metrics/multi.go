package metrics

import (
	"errors"
	"io"
)

// MultiSink fans records out to several sinks. Optional records only reach
// the sinks implementing the matching recorder.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink combines sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordStep forwards the samples to all sinks, returning the first error.
func (m *MultiSink) RecordStep(samples []ClusterSample) error {
	for _, s := range m.Sinks {
		if err := s.RecordStep(samples); err != nil {
			return err
		}
	}
	return nil
}

// RecordVehicleEvent forwards routine outcomes.
func (m *MultiSink) RecordVehicleEvent(ev VehicleEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(VehicleEventRecorder); ok {
			if err := rec.RecordVehicleEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSolve forwards solver calls.
func (m *MultiSink) RecordSolve(ev SolveEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SolveRecorder); ok {
			if err := rec.RecordSolve(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordRun forwards run summaries.
func (m *MultiSink) RecordRun(sum RunSummary) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(RunRecorder); ok {
			if err := rec.RecordRun(sum); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the sinks implementing io.Closer and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
