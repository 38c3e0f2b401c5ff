// Package control holds the charging controllers run at the end of every
// simulation step. A controller decides the power of every connected
// vehicle and applies it through Charger.Supply.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/factory"
	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/optim"
)

// Controller runs one control step over the station.
type Controller interface {
	Run(ctx context.Context, t time.Time, step time.Duration, st *model.Station) error
}

// Deps carries what controllers need besides their own configuration.
type Deps struct {
	Solver optim.Solver
	Log    logger.Logger
}

// Constructor finishes building a decoded controller.
type Constructor func(Deps) (Controller, error)

var registry = factory.NewRegistry[Constructor]()

// Register adds a controller kind.
func Register(name string, f factory.Factory[Constructor]) error {
	return registry.Register(name, f)
}

// New builds the controller described by cfg.
func New(cfg factory.ModuleConfig, deps Deps) (Controller, error) {
	build, err := registry.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("charging controller: %w", err)
	}
	return build(deps)
}

// Kinds lists the registered controller kinds.
func Kinds() []string { return registry.Names() }

// ErrEnvelopeInfeasible is matched by EnvelopeInfeasibleError.
var ErrEnvelopeInfeasible = errors.New("envelope infeasible")

// EnvelopeInfeasibleError reports a step at which the adjusted lower bound
// of a cluster exceeds its adjusted upper bound.
type EnvelopeInfeasibleError struct {
	Cluster string
	Step    time.Time
	Lower   float64
	Upper   float64
}

func (e *EnvelopeInfeasibleError) Error() string {
	return fmt.Sprintf("cluster %s: envelope infeasible at %s (lower %.3f > upper %.3f)",
		e.Cluster, e.Step.Format(time.RFC3339), e.Lower, e.Upper)
}

// Is makes errors.Is(err, ErrEnvelopeInfeasible) hold.
func (e *EnvelopeInfeasibleError) Is(target error) bool { return target == ErrEnvelopeInfeasible }

// active returns the clusters holding at least one vehicle.
func active(st *model.Station) []*model.Cluster {
	var out []*model.Cluster
	for _, c := range st.Clusters() {
		if c.NumberOfConnectedChargers() > 0 {
			out = append(out, c)
		}
	}
	return out
}

// supply applies p and records a cluster-qualified error.
func supply(c *model.Cluster, ch *model.Charger, t time.Time, step time.Duration, p float64) error {
	if math.Abs(p) < 1e-9 {
		p = 0
	}
	if err := ch.Supply(t, step, p); err != nil {
		return fmt.Errorf("cluster %s: %w", c.ID, err)
	}
	return nil
}

func init() {
	must(Register("uncontrolled", func(map[string]any) (Constructor, error) {
		return func(d Deps) (Controller, error) { return NewUncontrolled(d.Log), nil }, nil
	}))
	must(Register("fcfs", func(map[string]any) (Constructor, error) {
		return func(d Deps) (Controller, error) { return NewFCFS(d.Log), nil }, nil
	}))
	must(Register("llf", func(conf map[string]any) (Constructor, error) {
		var c LLFConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return func(d Deps) (Controller, error) { return NewLLF(c, d.Log), nil }, nil
	}))
	for _, kind := range []string{"milp", "milp_central", "milp_guarded"} {
		kind := kind
		must(Register(kind, func(conf map[string]any) (Constructor, error) {
			var c MILPConfig
			if err := factory.Decode(conf, &c); err != nil {
				return nil, err
			}
			c.SetDefaults()
			if err := c.Validate(); err != nil {
				return nil, err
			}
			return func(d Deps) (Controller, error) {
				if d.Solver == nil {
					return nil, fmt.Errorf("%s controller needs a solver", kind)
				}
				switch kind {
				case "milp_central":
					return NewCentral(c, d.Solver, d.Log), nil
				case "milp_guarded":
					return NewGuarded(c, d.Solver, d.Log), nil
				}
				return NewRescheduler(c, d.Solver, d.Log), nil
			}, nil
		}))
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
