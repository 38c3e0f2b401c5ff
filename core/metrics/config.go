package metrics

import (
	"fmt"
	"slices"

	"github.com/kilianp07/evstation/core/factory"
)

// Config lists the metrics sinks of a run. An empty list records nothing.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
}

// Validate checks that every sink kind is registered. Sink settings are
// checked when the sink is built.
func (c Config) Validate() error {
	kinds := SinkKinds()
	for i, s := range c.Sinks {
		if !slices.Contains(kinds, s.Type) {
			return fmt.Errorf("metrics sink %d: unknown type %q (known: %v)", i, s.Type, kinds)
		}
	}
	return nil
}
