package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDynamicPriceAboveUpper(t *testing.T) {
	tou := []float64{0.4, 0.5, 0.6, 0.7, 0.6, 0.5, 0.5, 0.5, 0.4, 0.4, 0.5, 0.6}
	in := Input{
		Schedule: []float64{52, 55, 60, 80, 90, 55, 48, 40, 35, 30, 40, 50},
		Upper:    flat(70, 12),
		Lower:    flat(0, 12),
		Tariff:   tou,
	}
	r := Rule{Discount: 0.05, Markup: 0.05}
	omega, err := r.G2V(in)
	require.NoError(t, err)

	want := append([]float64(nil), tou...)
	want[3] = 1.2
	want[4] = 1.7
	assert.InDeltaSlice(t, want, omega, 1e-12)
	for i, w := range omega {
		assert.GreaterOrEqual(t, w, 0.4-0.05*in.Lower[i])
	}

	v2g := V2G(omega, 0.1)
	assert.InDelta(t, 1.7*0.9, v2g[4], 1e-12)
	assert.InDelta(t, 0.4*0.9, v2g[0], 1e-12)
}

func TestDynamicPriceBelowLower(t *testing.T) {
	in := Input{
		Schedule: []float64{0, 10, 30},
		Upper:    flat(50, 3),
		Lower:    flat(20, 3),
		Tariff:   []float64{0.3, 0.2, 0.4},
	}
	omega, err := Rule{Discount: 0.01}.G2V(in)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2 - 0.2, 0.2 - 0.1, 0.4}, omega, 1e-12)
}

func TestDynamicPriceMonotone(t *testing.T) {
	r := Rule{Discount: 0.02, Markup: 0.03}
	price := func(s float64) float64 {
		omega, err := r.G2V(Input{Schedule: []float64{s}, Upper: []float64{40}, Lower: []float64{10}, Tariff: []float64{0.5}})
		require.NoError(t, err)
		return omega[0]
	}
	prev := price(41)
	for s := 42.0; s < 100; s += 3 {
		cur := price(s)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
	prev = price(9)
	for s := 8.0; s > -50; s -= 3 {
		cur := price(s)
		assert.LessOrEqual(t, cur, prev, "discount must deepen as load drops below the lower limit")
		prev = cur
	}
}

func TestDynamicPriceValidation(t *testing.T) {
	_, err := Rule{Markup: -1}.G2V(Input{Tariff: []float64{1}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Rule{}.G2V(Input{Tariff: []float64{1, 2}, Schedule: []float64{1}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Rule{}.G2V(Input{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
