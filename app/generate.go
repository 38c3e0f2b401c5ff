package app

import (
	"fmt"

	"github.com/kilianp07/evstation/config"
	"github.com/kilianp07/evstation/core/scenario"
	"github.com/kilianp07/evstation/infra/workbook"
)

// Generate draws a fleet from the generator workbook and writes it as a
// fleet input workbook. It returns the generated rows.
func (s *Service) Generate() ([]scenario.Row, error) {
	gen := s.cfg.Generator
	if err := gen.Validate(); err != nil {
		return nil, err
	}
	opts, err := gen.Options(s.cfg.Simulation)
	if err != nil {
		return nil, err
	}
	var rows []scenario.Row
	switch gen.Mode {
	case config.ModeConditional:
		in, err := workbook.LoadConditional(gen.Input)
		if err != nil {
			return nil, err
		}
		rows, err = scenario.GenerateConditional(in, opts)
		if err != nil {
			return nil, err
		}
	default:
		in, err := workbook.LoadIndependent(gen.Input)
		if err != nil {
			return nil, err
		}
		rows, err = scenario.GenerateIndependent(in, opts)
		if err != nil {
			return nil, err
		}
	}
	if err := workbook.WriteFleetInput(gen.Output, rows); err != nil {
		return nil, fmt.Errorf("write fleet: %w", err)
	}
	s.log.Infof("generated %d vehicles (%s) into %s", len(rows), gen.Mode, gen.Output)
	return rows, nil
}
