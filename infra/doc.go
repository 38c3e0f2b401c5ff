// Package infra contains the technical adapters of the simulator: the
// gonum solver backend, logging, metrics exporters, workbooks and the
// result store. These packages depend on interfaces defined in core.
package infra
