package control

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/model"
)

// request is the power one connected vehicle asks for in a step.
type request struct {
	ch    *model.Charger
	power float64 // vehicle side
	since time.Time
	key   float64 // ordering key, lower first
}

func requests(c *model.Cluster, t time.Time, step time.Duration) ([]request, error) {
	var out []request
	for _, ch := range c.ConnectedChargers() {
		p, err := ch.RequestedPower(t, step)
		if err != nil {
			return nil, err
		}
		since, _ := ch.ConnectedSince()
		out = append(out, request{ch: ch, power: p, since: since})
	}
	return out, nil
}

// allocate serves the ordered requests from the cluster's upper limit at t.
// Each vehicle gets min(p/η, margin)·η; an infinite limit serves everyone in
// full.
func allocate(c *model.Cluster, reqs []request, t time.Time, step time.Duration) error {
	margin := c.UpperAt(t)
	for _, r := range reqs {
		var p float64
		if r.power > 0 && margin > 0 {
			grid := math.Min(r.ch.GridSide(r.power), margin)
			p = grid * r.ch.Efficiency
			margin -= grid
		}
		if err := supply(c, r.ch, t, step, p); err != nil {
			return err
		}
	}
	return nil
}

// FCFS serves the longest-connected vehicles first.
type FCFS struct {
	log logger.Logger
}

// NewFCFS returns a first-come-first-serve controller.
func NewFCFS(log logger.Logger) *FCFS { return &FCFS{log: logger.OrNop(log)} }

func (f *FCFS) Run(_ context.Context, t time.Time, step time.Duration, st *model.Station) error {
	for _, c := range active(st) {
		reqs, err := requests(c, t, step)
		if err != nil {
			return err
		}
		sort.SliceStable(reqs, func(i, j int) bool {
			if !reqs[i].since.Equal(reqs[j].since) {
				return reqs[i].since.Before(reqs[j].since)
			}
			return reqs[i].ch.ID < reqs[j].ch.ID
		})
		if err := allocate(c, reqs, t, step); err != nil {
			return err
		}
		f.log.Debugw("fcfs allocation", map[string]any{"cluster": c.ID, "vehicles": len(reqs), "grid_kw": c.GridPowerAt(t)})
	}
	return nil
}

// LLFConfig tunes the least-laxity-first controller.
type LLFConfig struct {
	// MinLead clamps the time to departure, in seconds.
	MinLead float64 `json:"min_lead_seconds"`
}

// LLF serves the vehicles with the least laxity first.
type LLF struct {
	conf LLFConfig
	log  logger.Logger
}

// NewLLF returns a least-laxity-first controller.
func NewLLF(conf LLFConfig, log logger.Logger) *LLF {
	if conf.MinLead <= 0 {
		conf.MinLead = 1
	}
	return &LLF{conf: conf, log: logger.OrNop(log)}
}

// Laxity returns 1 - T_MIN/T_LEAD for the vehicle on ch at t, with T_MIN
// the shortest time to the target SOC under the vehicle's power table.
func (l *LLF) Laxity(ch *model.Charger, t time.Time) float64 {
	ev := ch.Vehicle()
	if ev == nil {
		return math.Inf(1)
	}
	soc, _ := ev.SoC.Get(t)
	limit := math.Min(ch.MaxChargePower, ev.MaxChargePower)
	tmin := ev.PowerTable.ChargingTime(soc, ev.TargetSoC, ev.BatteryCapacity, limit)
	lead := l.conf.MinLead
	if !ev.EstimatedDeparture.IsZero() {
		lead = math.Max(ev.EstimatedDeparture.Sub(t).Seconds(), l.conf.MinLead)
	}
	return 1 - tmin/lead
}

func (l *LLF) Run(_ context.Context, t time.Time, step time.Duration, st *model.Station) error {
	for _, c := range active(st) {
		reqs, err := requests(c, t, step)
		if err != nil {
			return err
		}
		for i := range reqs {
			reqs[i].key = l.Laxity(reqs[i].ch, t)
		}
		sort.SliceStable(reqs, func(i, j int) bool {
			if reqs[i].key != reqs[j].key {
				return reqs[i].key < reqs[j].key
			}
			return reqs[i].ch.ID < reqs[j].ch.ID
		})
		if err := allocate(c, reqs, t, step); err != nil {
			return err
		}
		l.log.Debugw("llf allocation", map[string]any{"cluster": c.ID, "vehicles": len(reqs), "grid_kw": c.GridPowerAt(t)})
	}
	return nil
}
