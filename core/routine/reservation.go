package routine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/evstation/core/milp"
	"github.com/kilianp07/evstation/core/model"
	"github.com/kilianp07/evstation/core/optim"
	"github.com/kilianp07/evstation/core/pricing"
	"github.com/kilianp07/evstation/core/timeseries"
)

// Reservation strategy names.
const (
	StrategySimple    = "simple"
	StrategyScheduled = "scheduled"
	StrategySmart     = "smart"
)

// ReservationConfig selects and parameterises the reservation strategy.
type ReservationConfig struct {
	Strategy  string  `json:"strategy"`
	Arbitrage float64 `json:"arbitrage_coeff"`
	Discount  float64 `json:"f_discount"`
	Markup    float64 `json:"f_markup"`
	// Confidence window of scheduled contracts: the SOC stays above CrtSoC
	// during the last CrtLead minutes of the stay. Zero disables it.
	CrtSoC  float64 `json:"crt_soc"`
	CrtLead float64 `json:"crt_lead_in_min"`
	// Bidirectional lets scheduled contracts use the vehicle's V2G allowance.
	Bidirectional bool `json:"scheduled_bidirectional"`
}

// SetDefaults fills unset fields.
func (c *ReservationConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySimple
	}
}

// Validate checks the configuration.
func (c ReservationConfig) Validate() error {
	switch c.Strategy {
	case StrategySimple, StrategyScheduled, StrategySmart:
	default:
		return fmt.Errorf("%w: reservation strategy %q", ErrUnknownStrategy, c.Strategy)
	}
	if c.Arbitrage < 0 || c.Arbitrage >= 1 {
		return fmt.Errorf("arbitrage_coeff %g outside [0, 1)", c.Arbitrage)
	}
	if c.CrtSoC < 0 || c.CrtSoC > 1 || c.CrtLead < 0 {
		return fmt.Errorf("confidence window soc %g lead %g min", c.CrtSoC, c.CrtLead)
	}
	return pricing.Rule{Discount: c.Discount, Markup: c.Markup}.Validate()
}

// Strategy turns the availability of a reserving vehicle into a reservation.
// avail is never empty.
type Strategy interface {
	Reserve(ctx context.Context, env *Env, t time.Time, ev *model.Vehicle, avail []model.AvailableCharger) error
}

// NewStrategy returns the strategy named by cfg. solver may be nil for the
// simple strategy.
func NewStrategy(cfg ReservationConfig, solver optim.Solver) (Strategy, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy != StrategySimple && solver == nil {
		return nil, fmt.Errorf("reservation strategy %s needs a solver", cfg.Strategy)
	}
	switch cfg.Strategy {
	case StrategyScheduled:
		return Scheduled{Conf: cfg, Solver: solver}, nil
	case StrategySmart:
		return Smart{Conf: cfg, Solver: solver}, nil
	default:
		return Simple{}, nil
	}
}

// Reservation runs the reservation routine at t: every vehicle reserving at
// t asks for chargers free over its forecast stay and the strategy books
// one of them.
func Reservation(ctx context.Context, t time.Time, env *Env, s Strategy) error {
	for _, ev := range env.Fleet.ReservingVehiclesAt(t) {
		arr, dep := env.estimated(ev)
		var avail []model.AvailableCharger
		if !ev.EstimatedArrival.IsZero() && dep.After(arr) {
			avail = env.Station.QueryAvailability(arr, dep, env.step(), env.Forecast)
		}
		if len(avail) == 0 {
			ev.ClearReservation()
			env.Stats.Unreserved++
			env.log().Debugw("reservation refused", map[string]any{"vehicle": ev.ID, "from": arr, "until": dep})
			continue
		}
		if err := s.Reserve(ctx, env, t, ev, avail); err != nil {
			return fmt.Errorf("reserve %s: %w", ev.ID, err)
		}
	}
	return nil
}

func (e *Env) book(t time.Time, ev *model.Vehicle, a model.AvailableCharger, contract *model.Contract) error {
	c, err := e.Station.Cluster(a.Cluster)
	if err != nil {
		return err
	}
	from, until := e.window(ev, a.Cluster)
	id, err := c.Reserve(t, from, until, ev, a.Charger, contract)
	if err != nil {
		return err
	}
	e.Stats.Reserved++
	fields := map[string]any{"vehicle": ev.ID, "cluster": c.ID, "charger": a.Charger, "reservation": id, "from": from, "until": until}
	if contract != nil {
		fields["price"] = contract.Price()
	}
	e.log().Debugw("reservation booked", fields)
	return nil
}

// Simple books a charger drawn uniformly from the available ones.
type Simple struct{}

func (Simple) Reserve(_ context.Context, env *Env, t time.Time, ev *model.Vehicle, avail []model.AvailableCharger) error {
	return env.book(t, ev, avail[env.intn(len(avail))], nil)
}

// Scheduled books a random charger like Simple and attaches the
// cost-minimising schedule of the stay on the time-of-use tariff.
type Scheduled struct {
	Conf   ReservationConfig
	Solver optim.Solver
}

func (s Scheduled) Reserve(ctx context.Context, env *Env, t time.Time, ev *model.Vehicle, avail []model.AvailableCharger) error {
	a := avail[env.intn(len(avail))]
	from, until := env.window(ev, a.Cluster)
	step := env.step()
	n := timeseries.Steps(from, until, step) + 1
	prices := env.Station.TOUPrices(from, from.Add(time.Duration(n)*step), step)
	soc := arrivalSoC(ev, env.Forecast.For(a.Cluster))
	allowance := 0.0
	if s.Conf.Bidirectional {
		allowance = ev.V2GAllowance
	}
	in := milp.ScheduleInput{
		Name:         "contract_" + ev.ID,
		Step:         step,
		N:            n,
		Capacity:     ev.BatteryCapacity,
		InitialSoC:   soc,
		MinSoC:       ev.MinSoC,
		MaxSoC:       ev.MaxSoC,
		MaxCharge:    math.Min(a.MaxChargePower, ev.MaxChargePower),
		MaxDischarge: math.Min(a.MaxDischargePower, ev.MaxDischargePower),
		Efficiency:   a.Efficiency,
		V2GAllowance: allowance,
		CrtStep:      -1,
		Prices:       prices,
		Arbitrage:    s.Conf.Arbitrage,
	}
	if allowance <= 0 {
		in.MaxDischarge = 0
	}
	in.TargetSoC = clipTarget(in, ev.TargetSoC)
	if s.Conf.CrtSoC > 0 {
		lead := int(math.Ceil(s.Conf.CrtLead * float64(time.Minute) / float64(step)))
		in.CrtStep = max(n-1-lead, 1)
		reach := milp.Reachable(soc, s.Conf.CrtSoC, math.Max(ev.MaxSoC, soc), in.MaxCharge, in.Capacity, in.CrtStep+1, step)
		in.CrtSoC = math.Min(reach, in.TargetSoC)
	}
	res, err := milp.OptimalSchedule(ctx, s.Solver, in, milp.Mixed)
	if err != nil {
		return err
	}
	contract := &model.Contract{
		Schedule: model.Schedule{Start: from, Step: step, Power: res.Power, SoC: res.SoC},
		G2VPrice: prices,
		V2GPrice: pricing.V2G(prices, s.Conf.Arbitrage),
	}
	return env.book(t, ev, a, contract)
}

// arrivalSoC is the estimated SOC at the plug after the forecast decrement.
func arrivalSoC(ev *model.Vehicle, d model.Deviation) float64 {
	return math.Max(ev.EstimatedArrivalSoC-d.SoCDecrement, 0)
}

// clipTarget bounds target to the SOC the schedule can reach from the
// initial SOC in both directions.
func clipTarget(in milp.ScheduleInput, target float64) float64 {
	soc := in.InitialSoC
	top := milp.Reachable(soc, target, math.Max(in.MaxSoC, soc), in.MaxCharge, in.Capacity, in.N, in.Step)
	drain := math.Min(in.MaxDischarge*float64(in.N-1)*in.Step.Seconds(), math.Max(in.V2GAllowance, 0))
	bottom := math.Max(soc-drain/in.Capacity, math.Min(in.MinSoC, soc))
	return math.Max(top, bottom)
}

// Smart routes the vehicle to the cluster of lowest individualised price.
// Each cluster offers its most powerful available charger; the routing
// program picks the cluster and the schedule that becomes the contract.
type Smart struct {
	Conf   ReservationConfig
	Solver optim.Solver
}

type offer struct {
	charger     model.AvailableCharger
	from, until time.Time
	soc         float64
}

// bestPerCluster keeps the most powerful charger of each cluster. avail is
// ordered by cluster then charger id, so ties keep the lowest id.
func bestPerCluster(avail []model.AvailableCharger) []model.AvailableCharger {
	var out []model.AvailableCharger
	idx := make(map[string]int)
	for _, a := range avail {
		i, ok := idx[a.Cluster]
		if !ok {
			idx[a.Cluster] = len(out)
			out = append(out, a)
			continue
		}
		if a.MaxChargePower > out[i].MaxChargePower {
			out[i] = a
		}
	}
	return out
}

func (s Smart) Reserve(ctx context.Context, env *Env, t time.Time, ev *model.Vehicle, avail []model.AvailableCharger) error {
	step := env.step()
	offers := make([]offer, 0, len(avail))
	var start, end time.Time
	for i, a := range bestPerCluster(avail) {
		from, until := env.window(ev, a.Cluster)
		offers = append(offers, offer{charger: a, from: from, until: until, soc: arrivalSoC(ev, env.Forecast.For(a.Cluster))})
		if i == 0 || from.Before(start) {
			start = from
		}
		if i == 0 || until.After(end) {
			end = until
		}
	}
	n := timeseries.Steps(start, end, step) + 1
	horizon := start.Add(time.Duration(n) * step)
	tariff := env.Station.TOUPrices(start, horizon, step)
	rule := pricing.Rule{Discount: s.Conf.Discount, Markup: s.Conf.Markup}

	in := milp.RoutingInput{
		Name:         "routing_" + ev.ID,
		Step:         step,
		N:            n,
		Capacity:     ev.BatteryCapacity,
		MinSoC:       ev.MinSoC,
		MaxSoC:       ev.MaxSoC,
		CrtStep:      -1,
		V2GAllowance: ev.V2GAllowance,
	}
	target := math.Inf(-1)
	for _, o := range offers {
		c, err := env.Station.Cluster(o.charger.Cluster)
		if err != nil {
			return err
		}
		lower, upper := c.Bounds(start, horizon, step)
		omega, err := rule.G2V(pricing.Input{
			Schedule: c.AggregateSchedule(start, horizon, step),
			Upper:    upper,
			Lower:    lower,
			Tariff:   tariff,
		})
		if err != nil {
			return fmt.Errorf("price cluster %s: %w", c.ID, err)
		}
		cand := milp.Candidate{
			Cluster:      c.ID,
			Arrival:      timeseries.Steps(start, o.from, step),
			Departure:    timeseries.Steps(start, o.until, step),
			ArrivalSoC:   o.soc,
			MaxCharge:    math.Min(o.charger.MaxChargePower, ev.MaxChargePower),
			MaxDischarge: math.Min(o.charger.MaxDischargePower, ev.MaxDischargePower),
			G2VPrice:     omega,
			V2GPrice:     pricing.V2G(omega, s.Conf.Arbitrage),
		}
		in.Candidates = append(in.Candidates, cand)
		reach := milp.Reachable(o.soc, ev.TargetSoC, math.Max(ev.MaxSoC, o.soc), cand.MaxCharge, ev.BatteryCapacity, cand.Departure-cand.Arrival+1, step)
		target = math.Max(target, reach)
	}
	in.TargetSoC = target

	res, err := milp.Route(ctx, s.Solver, in)
	if err != nil {
		return err
	}
	o, cand := offers[res.Index], in.Candidates[res.Index]
	lo, hi := cand.Arrival, cand.Departure+1
	power := append([]float64(nil), res.Power[lo:hi]...)
	power[len(power)-1] = 0
	contract := &model.Contract{
		Schedule: model.Schedule{Start: o.from, Step: step, Power: power, SoC: append([]float64(nil), res.SoC[lo:hi]...)},
		G2VPrice: append([]float64(nil), cand.G2VPrice[lo:hi]...),
		V2GPrice: append([]float64(nil), cand.V2GPrice[lo:hi]...),
	}
	return env.book(t, ev, o.charger, contract)
}
