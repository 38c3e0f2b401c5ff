// Package metrics defines the sinks that observe a simulation run. The base
// MetricsSink receives the per-step cluster samples; sinks may implement the
// optional recorder interfaces for vehicle events, solver calls and run
// summaries. NewMetricsSink builds sinks from configuration and combines
// several of them in a MultiSink.
package metrics
