package metrics

import "time"

// ClusterSample is the state of one cluster at the end of a step.
type ClusterSample struct {
	Run       string
	Cluster   string
	Time      time.Time
	GridPower float64 // kW, grid side
	Lower     float64
	Upper     float64
	Connected int
}

// MetricsSink records the cluster samples of every simulated step.
type MetricsSink interface {
	RecordStep(samples []ClusterSample) error
}

// Vehicle event kinds.
const (
	EventReserved   = "reserved"
	EventUnreserved = "unreserved"
	EventAdmitted   = "admitted"
	EventRejected   = "rejected"
	EventDeparted   = "departed"
	EventMigrated   = "migrated"
)

// VehicleEvent counts routine outcomes of one step.
type VehicleEvent struct {
	Run   string
	Kind  string
	Count int
	Time  time.Time
}

// VehicleEventRecorder records routine outcomes.
type VehicleEventRecorder interface {
	RecordVehicleEvent(ev VehicleEvent) error
}

// SolveEvent describes one solver call.
type SolveEvent struct {
	Problem  string
	Status   string
	Nodes    int
	Duration time.Duration
}

// SolveRecorder records solver calls.
type SolveRecorder interface {
	RecordSolve(ev SolveEvent) error
}

// RunSummary closes a run.
type RunSummary struct {
	Run      string
	Steps    int
	Admitted int
	Rejected int
	Reserved int
	Duration time.Duration
}

// RunRecorder records run summaries.
type RunRecorder interface {
	RecordRun(s RunSummary) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordStep([]ClusterSample) error      { return nil }
func (NopSink) RecordVehicleEvent(VehicleEvent) error { return nil }
func (NopSink) RecordSolve(SolveEvent) error          { return nil }
func (NopSink) RecordRun(RunSummary) error            { return nil }
