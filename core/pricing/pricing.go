// Package pricing derives individualised per-step prices from a cluster's
// scheduled load, its soft envelope and the station tariff.
package pricing

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidInput is returned when the input curves are inconsistent.
var ErrInvalidInput = errors.New("invalid pricing input")

// Rule holds the scalar factors of the dynamic price.
type Rule struct {
	Discount float64 // f_discount, per kW below the lower limit
	Markup   float64 // f_markup, per kW above the upper limit
}

// Input is one cluster's view over the pricing horizon. All slices have the
// same length.
type Input struct {
	Schedule []float64 // aggregate scheduled grid-side power
	Upper    []float64
	Lower    []float64
	Tariff   []float64
}

// Validate checks factor signs and curve lengths.
func (r Rule) Validate() error {
	if r.Discount < 0 || r.Markup < 0 {
		return fmt.Errorf("%w: negative factor (discount %g, markup %g)", ErrInvalidInput, r.Discount, r.Markup)
	}
	return nil
}

// G2V returns ω[t]: the peak tariff raised by the markup where the schedule
// reaches the upper limit, the off-peak tariff lowered by the discount where
// it stays below the lower limit, and the tariff itself otherwise.
func (r Rule) G2V(in Input) ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	n := len(in.Tariff)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty tariff", ErrInvalidInput)
	}
	if len(in.Schedule) != n || len(in.Upper) != n || len(in.Lower) != n {
		return nil, fmt.Errorf("%w: curve lengths %d/%d/%d for %d tariff steps",
			ErrInvalidInput, len(in.Schedule), len(in.Upper), len(in.Lower), n)
	}
	kl, ku := floats.Min(in.Tariff), floats.Max(in.Tariff)
	omega := make([]float64, n)
	for t := range omega {
		s := in.Schedule[t]
		switch {
		case s >= in.Upper[t]:
			omega[t] = ku + r.Markup*(s-in.Upper[t])
		case s < in.Lower[t]:
			omega[t] = kl - r.Discount*(in.Lower[t]-s)
		default:
			omega[t] = in.Tariff[t]
		}
	}
	return omega, nil
}

// V2G returns ω[t]·(1 - arbitrage).
func V2G(omega []float64, arbitrage float64) []float64 {
	out := make([]float64, len(omega))
	floats.ScaleTo(out, 1-arbitrage, omega)
	return out
}
