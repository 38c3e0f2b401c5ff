package control

import (
	"context"
	"time"

	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/model"
)

// Uncontrolled charges every vehicle as fast as its charger, its battery
// headroom and its power table allow, ignoring every envelope.
type Uncontrolled struct {
	log logger.Logger
}

// NewUncontrolled returns the reference controller.
func NewUncontrolled(log logger.Logger) *Uncontrolled {
	return &Uncontrolled{log: logger.OrNop(log)}
}

func (u *Uncontrolled) Run(_ context.Context, t time.Time, step time.Duration, st *model.Station) error {
	for _, c := range active(st) {
		if err := c.UncontrolledSupply(t, step); err != nil {
			return err
		}
		u.log.Debugw("uncontrolled supply", map[string]any{
			"cluster":   c.ID,
			"connected": c.NumberOfConnectedChargers(),
			"grid_kw":   c.GridPowerAt(t),
		})
	}
	return nil
}
