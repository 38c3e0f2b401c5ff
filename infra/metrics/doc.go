// Package metrics provides the Prometheus and InfluxDB sinks of a
// simulation run. Importing it registers the "nop", "prometheus" and
// "influx" sink kinds on the core metrics registry.
package metrics
