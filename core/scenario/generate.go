package scenario

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

func (p TimePDF) validate(table string) error {
	if len(p.Weekday) != len(p.Bins) || len(p.Weekend) != len(p.Bins) {
		return fmt.Errorf("%w: %s has %d bins, %d weekday and %d weekend weights", ErrInvalidInput, table, len(p.Bins), len(p.Weekday), len(p.Weekend))
	}
	if err := checkBins(table, p.Bins); err != nil {
		return err
	}
	if err := checkWeights(table+" weekday", p.Weekday); err != nil {
		return err
	}
	return checkWeights(table+" weekend", p.Weekend)
}

func (p SoCPDF) validate(table string) error {
	if len(p.Prob) != len(p.Bins) {
		return fmt.Errorf("%w: %s has %d bins and %d weights", ErrInvalidInput, table, len(p.Bins), len(p.Prob))
	}
	if err := checkSoCBins(table, p.Bins); err != nil {
		return err
	}
	return checkWeights(table, p.Prob)
}

func checkBins(table string, bins []TimeBin) error {
	for _, b := range bins {
		if b.End < b.Start {
			return fmt.Errorf("%w: %s bin %s ends before it starts", ErrInvalidInput, table, b.ID)
		}
	}
	return nil
}

func checkSoCBins(table string, bins []SoCBin) error {
	for _, b := range bins {
		if b.Lower < 0 || b.Upper > 1 || b.Lower > b.Upper {
			return fmt.Errorf("%w: %s bin %s [%g, %g]", ErrInvalidInput, table, b.ID, b.Lower, b.Upper)
		}
	}
	return nil
}

// GenerateIndependent samples arrival time, departure time, both SOC levels
// and the vehicle model independently. Time tables depend on the weekday and
// a Bernoulli draw decides whether the vehicle leaves on its arrival day.
func GenerateIndependent(in Independent, opts Options) ([]Row, error) {
	if err := in.Arrival.validate("ArrivalTime"); err != nil {
		return nil, err
	}
	if err := in.Departure.validate("DepartureTime"); err != nil {
		return nil, err
	}
	if err := in.ArrivalSoC.validate("ArrivalSoC"); err != nil {
		return nil, err
	}
	if err := in.DepartureSoC.validate("DepartureSoC"); err != nil {
		return nil, err
	}
	s, err := newSampler(opts, in.Models)
	if err != nil {
		return nil, err
	}
	arrWD := distuv.NewCategorical(in.Arrival.Weekday, s.src)
	arrWE := distuv.NewCategorical(in.Arrival.Weekend, s.src)
	depWD := distuv.NewCategorical(in.Departure.Weekday, s.src)
	depWE := distuv.NewCategorical(in.Departure.Weekend, s.src)
	arrSoC := distuv.NewCategorical(in.ArrivalSoC.Prob, s.src)
	depSoC := distuv.NewCategorical(in.DepartureSoC.Prob, s.src)
	sameDay := distuv.Bernoulli{P: s.opts.SameDayProbability, Src: s.src}

	return s.days(func(day time.Time, weekend bool) stay {
		arr, dep := arrWD, depWD
		if weekend {
			arr, dep = arrWE, depWE
		}
		st := stay{arrival: s.within(day, in.Arrival.Bins[int(arr.Rand())])}
		leave := day
		if sameDay.Rand() == 0 {
			leave = day.AddDate(0, 0, 1)
		}
		st.departure = s.within(leave, in.Departure.Bins[int(dep.Rand())])
		st.arrSoC = s.soc(in.ArrivalSoC.Bins[int(arrSoC.Rand())])
		st.depSoC = s.soc(in.DepartureSoC.Bins[int(depSoC.Rand())])
		st.model = s.pickModel()
		return st
	})
}

func flatten(table string, joint [][]float64, n int) ([]float64, error) {
	if len(joint) != n {
		return nil, fmt.Errorf("%w: %s has %d rows for %d bins", ErrInvalidInput, table, len(joint), n)
	}
	out := make([]float64, 0, n*n)
	for i, row := range joint {
		if len(row) != n {
			return nil, fmt.Errorf("%w: %s row %d has %d columns for %d bins", ErrInvalidInput, table, i, len(row), n)
		}
		out = append(out, row...)
	}
	return out, checkWeights(table, out)
}

// GenerateConditional samples (arrival bin, departure bin) and (arrival SOC
// bin, departure SOC bin) jointly. A departure not after the arrival moves to
// the next day.
func GenerateConditional(in Conditional, opts Options) ([]Row, error) {
	if err := checkBins("TimeID", in.TimeBins); err != nil {
		return nil, err
	}
	if err := checkSoCBins("SoCID", in.SoCBins); err != nil {
		return nil, err
	}
	tw, err := flatten("TimeProbabilityDistribution", in.TimeJoint, len(in.TimeBins))
	if err != nil {
		return nil, err
	}
	sw, err := flatten("SoCProbabilityDistribution", in.SoCJoint, len(in.SoCBins))
	if err != nil {
		return nil, err
	}
	s, err := newSampler(opts, in.Models)
	if err != nil {
		return nil, err
	}
	times := distuv.NewCategorical(tw, s.src)
	socs := distuv.NewCategorical(sw, s.src)
	nt, ns := len(in.TimeBins), len(in.SoCBins)

	return s.days(func(day time.Time, _ bool) stay {
		k := int(times.Rand())
		st := stay{arrival: s.within(day, in.TimeBins[k/nt])}
		st.departure = s.within(day, in.TimeBins[k%nt])
		if !st.departure.After(st.arrival) {
			st.departure = st.departure.AddDate(0, 0, 1)
		}
		k = int(socs.Rand())
		st.arrSoC = s.soc(in.SoCBins[k/ns])
		st.depSoC = s.soc(in.SoCBins[k%ns])
		st.model = s.pickModel()
		return st
	})
}
