package model

import (
	"math"
	"sort"
)

const socEps = 1e-9

// PowerBand caps the charging power while the SOC lies in [Lower, Upper).
type PowerBand struct {
	Lower    float64 `json:"lower" yaml:"lower"`
	Upper    float64 `json:"upper" yaml:"upper"`
	MaxPower float64 `json:"max_power" yaml:"max_power"`
}

// PowerTable is an SOC dependent charging power curve. A valid table is a
// sequence of adjacent, non-overlapping bands covering [0, 1].
type PowerTable []PowerBand

// Validate checks ordering, adjacency and coverage of the bands.
func (pt PowerTable) Validate() error {
	if len(pt) == 0 {
		return nil
	}
	bands := make(PowerTable, len(pt))
	copy(bands, pt)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Lower < bands[j].Lower })
	if math.Abs(bands[0].Lower) > socEps {
		return invalid("power table starts at soc %.3f, want 0", bands[0].Lower)
	}
	if math.Abs(bands[len(bands)-1].Upper-1) > socEps {
		return invalid("power table ends at soc %.3f, want 1", bands[len(bands)-1].Upper)
	}
	for i, b := range bands {
		if b.Upper <= b.Lower {
			return invalid("power band %d is empty [%.3f, %.3f)", i, b.Lower, b.Upper)
		}
		if b.MaxPower < 0 {
			return invalid("power band %d has negative power", i)
		}
		if i > 0 && math.Abs(bands[i-1].Upper-b.Lower) > socEps {
			return invalid("power bands %d and %d are not adjacent", i-1, i)
		}
	}
	return nil
}

// sorted returns the bands ordered by lower bound.
func (pt PowerTable) sorted() PowerTable {
	bands := make(PowerTable, len(pt))
	copy(bands, pt)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Lower < bands[j].Lower })
	return bands
}

// MaxPower returns the cap of the band containing soc. The last band is
// closed on the right so soc = 1 resolves to it.
func (pt PowerTable) MaxPower(soc float64) (float64, bool) {
	if len(pt) == 0 {
		return 0, false
	}
	bands := pt.sorted()
	for i, b := range bands {
		if soc >= b.Lower-socEps && (soc < b.Upper || i == len(bands)-1) {
			return b.MaxPower, true
		}
	}
	if soc < bands[0].Lower {
		return bands[0].MaxPower, true
	}
	return bands[len(bands)-1].MaxPower, true
}

// ChargingTime returns the minimum seconds needed to raise the SOC from
// current to target for a battery of capKWs, with every band additionally
// capped at limit kW. Bands crossed by [current, target] are clipped at both
// ends. An empty table uses limit alone. The result is +Inf when a crossed
// band allows no power.
func (pt PowerTable) ChargingTime(current, target, capKWs, limit float64) float64 {
	if target <= current {
		return 0
	}
	if len(pt) == 0 {
		if limit <= 0 {
			return math.Inf(1)
		}
		return (target - current) * capKWs / limit
	}
	var total float64
	for _, b := range pt.sorted() {
		lo := math.Max(b.Lower, current)
		hi := math.Min(b.Upper, target)
		if hi <= lo {
			continue
		}
		p := math.Min(b.MaxPower, limit)
		if p <= 0 {
			return math.Inf(1)
		}
		total += (hi - lo) * capKWs / p
	}
	return total
}
